package handlers_test

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/app"
	"github.com/campusgate/campusgate/internal/handlers/testutil"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/models"
)

const (
	testEmail    = "applicant@example.edu"
	testPassword = "correct-horse-battery"
)

func TestRegisterVerifyLoginFlow(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Register(t, testEmail, testPassword)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var registered struct {
		User models.User `json:"user"`
	}
	testutil.DecodeData(t, w, &registered)
	require.Equal(t, testEmail, registered.User.Email)
	require.False(t, registered.User.EmailVerified)
	require.NotContains(t, w.Body.String(), "argon2id")

	// Unverified accounts cannot log in.
	w = env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ACCOUNT_UNVERIFIED", testutil.ErrorCode(t, w))

	token := env.Mailer.LastToken(t)
	w = env.Do(t, http.MethodGet, "/verify-email/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	client := env.Login(t, testEmail, testPassword)

	w = client.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me struct {
		User models.User `json:"user"`
	}
	testutil.DecodeData(t, w, &me)
	require.Equal(t, testEmail, me.User.Email)
	require.True(t, me.User.EmailVerified)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Register(t, testEmail, testPassword)
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.Register(t, testEmail, "another-password-1")
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "EMAIL_TAKEN", testutil.ErrorCode(t, w))
}

func TestRegisterRejectsWeakPassword(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Register(t, testEmail, "short")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyEmailRejectsUnknownToken(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Do(t, http.MethodGet, "/verify-email/0123456789abcdef", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "TOKEN_INVALID", testutil.ErrorCode(t, w))
}

func TestVerifyEmailTokenIsSingleUse(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Register(t, testEmail, testPassword)
	require.Equal(t, http.StatusCreated, w.Code)

	token := env.Mailer.LastToken(t)
	w = env.Do(t, http.MethodGet, "/verify-email/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.Do(t, http.MethodGet, "/verify-email/"+token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	w := env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    testEmail,
		"password": "wrong-password-123",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.ErrorCode(t, w))

	// Unknown accounts answer identically to wrong passwords.
	w = env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    "nobody@example.edu",
		"password": "wrong-password-123",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "INVALID_CREDENTIALS", testutil.ErrorCode(t, w))
}

func TestLoginSetsSessionCookie(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	w := env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, w.Code)

	res := w.Result()
	defer res.Body.Close()

	var sessionCookie *http.Cookie
	for _, cookie := range res.Cookies() {
		if cookie.Name == middleware.SessionCookieName {
			sessionCookie = cookie
		}
	}
	require.NotNil(t, sessionCookie)
	require.True(t, sessionCookie.HttpOnly)
	require.Equal(t, http.SameSiteStrictMode, sessionCookie.SameSite)
	require.NotEmpty(t, sessionCookie.Value)
	require.Len(t, sessionCookie.Value, 64)
}

func TestLoginRateLimited(t *testing.T) {
	env := testutil.NewEnv(t, testutil.WithRateLimit(app.RateLimitRule{
		MaxRequests: 2,
		Window:      time.Minute,
	}))

	body := map[string]any{"email": testEmail, "password": "whatever-password"}
	for i := 0; i < 2; i++ {
		w := env.Do(t, http.MethodPost, "/login", body)
		require.Equal(t, http.StatusUnauthorized, w.Code)
		require.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}

	w := env.Do(t, http.MethodPost, "/login", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "RATE_LIMIT_EXCEEDED", testutil.ErrorCode(t, w))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestLogoutRevokesSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = client.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStateChangeRequiresCSRFToken(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.DoWithoutCSRF(t, http.MethodPost, "/logout", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "CSRF_TOKEN_INVALID", testutil.ErrorCode(t, w))

	// The session itself is still alive.
	w = client.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMeRequiresSession(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestForgotPasswordAlwaysAnswers200(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	w := env.Do(t, http.MethodPost, "/forgot-password", map[string]any{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code)
	known := w.Body.String()

	w = env.Do(t, http.MethodPost, "/forgot-password", map[string]any{"email": "ghost@example.edu"})
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, known, w.Body.String())
}

func TestPasswordResetFlow(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := env.Do(t, http.MethodPost, "/forgot-password", map[string]any{"email": testEmail})
	require.Equal(t, http.StatusOK, w.Code)

	token := env.Mailer.LastToken(t)
	newPassword := "fresh-password-456"
	w = env.Do(t, http.MethodPost, "/reset-password", map[string]any{
		"token":    token,
		"password": newPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// Redemption revokes every live session.
	w = client.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// Old password is gone, the new one works.
	w = env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	env.Login(t, testEmail, newPassword)

	// The token is single-use.
	w = env.Do(t, http.MethodPost, "/reset-password", map[string]any{
		"token":    token,
		"password": "yet-another-pass-9",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetPasswordValidatesTokenShape(t *testing.T) {
	env := testutil.NewEnv(t)

	// Wrong length.
	w := env.Do(t, http.MethodPost, "/reset-password", map[string]any{
		"token":    "abc123",
		"password": "fresh-password-456",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Right length, not hex.
	w = env.Do(t, http.MethodPost, "/reset-password", map[string]any{
		"token":    "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
		"password": "fresh-password-456",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChangePasswordKeepsCurrentSession(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)

	other := env.Login(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodPost, "/change-password", map[string]any{
		"currentPassword": testPassword,
		"newPassword":     "fresh-password-456",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// The acting session survives; the other one is revoked.
	w = client.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = other.Do(t, http.MethodGet, "/me", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUpdateProfile(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodPatch, "/me", map[string]any{
		"name":              "Renamed Applicant",
		"preferredLanguage": "fr",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated struct {
		User models.User `json:"user"`
	}
	testutil.DecodeData(t, w, &updated)
	require.Equal(t, "Renamed Applicant", updated.User.Name)
	require.Equal(t, "fr", updated.User.PreferredLanguage)
}

func TestEraseAccount(t *testing.T) {
	env := testutil.NewEnv(t)
	env.RegisterAndVerify(t, testEmail, testPassword)
	client := env.Login(t, testEmail, testPassword)

	w := client.Do(t, http.MethodPost, "/account/erase", map[string]any{
		"password": testPassword,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	// The address can be used again.
	w = env.Register(t, testEmail, testPassword)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}
