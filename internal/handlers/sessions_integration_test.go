package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/handlers/testutil"
)

type sessionListPayload struct {
	Sessions []struct {
		ID         string `json:"id"`
		Current    bool   `json:"current"`
		RememberMe bool   `json:"remember_me"`
	} `json:"sessions"`
}

func TestListSessionsMarksCurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	env.Login(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload sessionListPayload
	testutil.DecodeData(t, w, &payload)
	require.Len(t, payload.Sessions, 2)

	current := 0
	for _, s := range payload.Sessions {
		if s.Current {
			current++
		}
	}
	require.Equal(t, 1, current)
}

func TestRevokeOtherSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	other := env.Login(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var payload sessionListPayload
	testutil.DecodeData(t, w, &payload)

	otherID := ""
	for _, s := range payload.Sessions {
		if !s.Current {
			otherID = s.ID
		}
	}
	require.NotEmpty(t, otherID)

	w = client.Do(t, http.MethodPost, "/sessions/revoke/"+otherID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = other.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRevokeForeignSessionAnswersNotFound(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	env.RegisterAndVerify(t, "other@example.edu", testPassword)

	victim := env.Login(t, "other@example.edu", testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := victim.Do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var payload sessionListPayload
	testutil.DecodeData(t, w, &payload)
	require.Len(t, payload.Sessions, 1)
	victimID := payload.Sessions[0].ID

	w = client.Do(t, http.MethodPost, "/sessions/revoke/"+victimID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	// Untouched.
	w = victim.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
}
