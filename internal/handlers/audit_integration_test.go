package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/database"
	"github.com/campusgate/campusgate/internal/handlers/testutil"
)

func TestAuditListRequiresElevatedRole(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodGet, "/audit", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAuditListForAdmin(t *testing.T) {
	env := testutil.NewEnv(t)
	require.NoError(t, database.SeedAdmin(env.DB, "admin@example.edu", "admin-password-123", "Admin"))

	// Generate some trail entries.
	env.RegisterAndVerify(t, testEmail, testPassword)
	env.Login(t, testEmail, testPassword)

	admin := env.Login(t, "admin@example.edu", "admin-password-123")

	// Trail writes are asynchronous, so poll until they land.
	require.Eventually(t, func() bool {
		w := admin.Do(t, http.MethodGet, "/audit?per_page=10", nil)
		if w.Code != http.StatusOK {
			return false
		}
		var payload struct {
			Logs []struct {
				Action string `json:"action"`
				Result string `json:"result"`
			} `json:"logs"`
		}
		testutil.DecodeData(t, w, &payload)
		return len(payload.Logs) > 0
	}, 2*time.Second, 25*time.Millisecond)
}
