package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/api"
	"github.com/campusgate/campusgate/internal/app"
	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/cache"
	dbtestutil "github.com/campusgate/campusgate/internal/database/testutil"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/mail"
)

const baseURL = "https://portal.example.edu"

// RecordingMailer captures outbound messages for assertions.
type RecordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *RecordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

// Sent returns a copy of the captured messages.
func (m *RecordingMailer) Sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mail.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// LastToken extracts the token from the most recent message, whether it was
// embedded as a path segment or a query parameter.
func (m *RecordingMailer) LastToken(t *testing.T) string {
	t.Helper()

	sent := m.Sent()
	require.NotEmpty(t, sent, "expected at least one outbound message")
	body := sent[len(sent)-1].Body

	if idx := strings.Index(body, "token="); idx >= 0 {
		token := body[idx+len("token="):]
		if end := strings.IndexAny(token, " \r\n&"); end >= 0 {
			token = token[:end]
		}
		return token
	}

	if idx := strings.Index(body, "/verify-email/"); idx >= 0 {
		token := body[idx+len("/verify-email/"):]
		if end := strings.IndexAny(token, " \r\n"); end >= 0 {
			token = token[:end]
		}
		return token
	}

	t.Fatalf("no token found in message body: %q", body)
	return ""
}

// Env wires a full HTTP stack against in-memory stores.
type Env struct {
	DB       *gorm.DB
	Router   *gin.Engine
	Mailer   *RecordingMailer
	Config   *app.Config
	Sessions *iauth.SessionService
	Users    *services.UserService
	Audit    *services.AuditService
	Store    cache.Store
}

// Option adjusts the environment before the router is built.
type Option func(*app.Config)

// WithRateLimit tightens the login limiter so tests can trip it.
func WithRateLimit(rule app.RateLimitRule) Option {
	return func(cfg *app.Config) {
		cfg.Auth.RateLimit.Login = rule
		cfg.Auth.RateLimit.Register = rule
		cfg.Auth.RateLimit.PasswordReset = rule
	}
}

// NewEnv builds a complete environment: sqlite database, miniredis-backed
// cache, real services, and the production router.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtestutil.MustOpenTestDB(t, dbtestutil.WithAutoMigrate())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewRedisStoreWithClient(client)

	cfg := &app.Config{}
	cfg.Server.BaseURL = baseURL
	cfg.Monitoring.Health.Enabled = true
	cfg.Monitoring.Prometheus.Enabled = false
	cfg.Auth.Session.TTL = 2 * time.Hour
	cfg.Auth.Session.RememberMeTTL = 14 * 24 * time.Hour
	cfg.Auth.RateLimit.Login = app.RateLimitRule{MaxRequests: 100, Window: time.Minute}
	cfg.Auth.RateLimit.Register = app.RateLimitRule{MaxRequests: 100, Window: time.Minute}
	cfg.Auth.RateLimit.PasswordReset = app.RateLimitRule{MaxRequests: 100, Window: time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}

	mailer := &RecordingMailer{}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewStoreSessionCache(store)
	sessions, err := iauth.NewSessionService(db, sessionCfg)
	require.NoError(t, err)

	verification, err := services.NewEmailVerificationService(db, mailer,
		services.WithVerificationBaseURL(cfg.Server.BaseURL))
	require.NoError(t, err)

	resets, err := services.NewPasswordResetService(db, sessions, mailer,
		services.WithResetBaseURL(cfg.Server.BaseURL))
	require.NoError(t, err)

	users, err := services.NewUserService(db, verification, sessions)
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	router, err := api.NewRouter(api.Deps{
		DB:           db,
		Config:       cfg,
		Sessions:     sessions,
		Users:        users,
		Verification: verification,
		Resets:       resets,
		Audit:        audit,
		RateStore:    middleware.NewStoreRateStore(store),
	})
	require.NoError(t, err)

	return &Env{
		DB:       db,
		Router:   router,
		Mailer:   mailer,
		Config:   cfg,
		Sessions: sessions,
		Users:    users,
		Audit:    audit,
		Store:    store,
	}
}

// Client carries the cookies and CSRF token of one logged-in browser.
type Client struct {
	env       *Env
	cookies   []*http.Cookie
	CSRFToken string
}

// Do issues a JSON request without any session state.
func (e *Env) Do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return e.request(t, method, path, body, nil, "")
}

func (e *Env) request(t *testing.T, method, path string, body any, cookies []*http.Cookie, csrfToken string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	if csrfToken != "" {
		req.Header.Set(middleware.CSRFHeaderName, csrfToken)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Register creates an account through the HTTP surface.
func (e *Env) Register(t *testing.T, email, password string) *httptest.ResponseRecorder {
	t.Helper()
	return e.Do(t, http.MethodPost, "/register", map[string]any{
		"email":    email,
		"password": password,
		"name":     "Test Applicant",
	})
}

// RegisterAndVerify registers an account and redeems the mailed token.
func (e *Env) RegisterAndVerify(t *testing.T, email, password string) {
	t.Helper()

	w := e.Register(t, email, password)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	token := e.Mailer.LastToken(t)
	w = e.Do(t, http.MethodGet, "/verify-email/"+token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// Login authenticates and returns a client holding the session cookies and
// CSRF token.
func (e *Env) Login(t *testing.T, email, password string) *Client {
	t.Helper()

	w := e.Do(t, http.MethodPost, "/login", map[string]any{
		"email":    email,
		"password": password,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var payload struct {
		Data struct {
			CSRFToken string `json:"csrfToken"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.NotEmpty(t, payload.Data.CSRFToken)

	res := w.Result()
	defer res.Body.Close()
	require.NotEmpty(t, res.Cookies())

	return &Client{
		env:       e,
		cookies:   res.Cookies(),
		CSRFToken: payload.Data.CSRFToken,
	}
}

// Do issues a request carrying the client's cookies. State-changing methods
// get the CSRF token attached automatically.
func (c *Client) Do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	csrfToken := ""
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
	default:
		csrfToken = c.CSRFToken
	}
	return c.env.request(t, method, path, body, c.cookies, csrfToken)
}

// DoWithoutCSRF issues a request with cookies but no CSRF header.
func (c *Client) DoWithoutCSRF(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return c.env.request(t, method, path, body, c.cookies, "")
}

// DecodeData unmarshals the data field of a response envelope.
func DecodeData(t *testing.T, w *httptest.ResponseRecorder, target any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, w.Body.String())
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

// ErrorCode extracts the error code of a failed response envelope.
func ErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()

	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.False(t, envelope.Success, w.Body.String())
	return envelope.Error.Code
}
