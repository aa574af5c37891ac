package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type failingRateStore struct{}

func (failingRateStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("store unreachable")
}

func newRateLimitedRouter(cfg RateLimitConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/login", RateLimit(cfg), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitDeniesBeyondMax(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{
		Action:      "login",
		MaxRequests: 2,
		Window:      time.Minute,
		Store:       NewMemoryRateStore(),
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	require.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitKeysByClientIP(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{
		Action:      "login",
		MaxRequests: 1,
		Window:      time.Minute,
		Store:       NewMemoryRateStore(),
	})

	first := httptest.NewRequest(http.MethodPost, "/login", nil)
	first.RemoteAddr = "203.0.113.1:4000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, first)
	require.Equal(t, http.StatusOK, w.Code)

	blocked := httptest.NewRequest(http.MethodPost, "/login", nil)
	blocked.RemoteAddr = "203.0.113.1:4001"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, blocked)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	other := httptest.NewRequest(http.MethodPost, "/login", nil)
	other.RemoteAddr = "203.0.113.2:4000"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, other)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKeysByEmailAcrossIPs(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{
		Action:      "password_reset",
		MaxRequests: 1,
		Window:      time.Minute,
		Store:       NewMemoryRateStore(),
		Key:         EmailBodyKey,
	})

	send := func(remoteAddr, email string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login",
			strings.NewReader(`{"email":"`+email+`"}`))
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, send("203.0.113.1:4000", "alice@example.edu").Code)
	// Same mailbox from a different IP still counts against the same window.
	require.Equal(t, http.StatusTooManyRequests, send("203.0.113.2:4000", "ALICE@example.edu").Code)
	require.Equal(t, http.StatusOK, send("203.0.113.2:4000", "bob@example.edu").Code)
}

func TestEmailBodyKeyRestoresBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	var seen string
	router.POST("/echo", RateLimit(RateLimitConfig{
		Action:      "echo",
		MaxRequests: 10,
		Window:      time.Minute,
		Store:       NewMemoryRateStore(),
		Key:         EmailBodyKey,
	}), func(c *gin.Context) {
		var body struct {
			Email string `json:"email"`
		}
		require.NoError(t, c.ShouldBindJSON(&body))
		seen = body.Email
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/echo",
		strings.NewReader(`{"email":"carol@example.edu"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "carol@example.edu", seen)
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{
		Action:      "login",
		MaxRequests: 1,
		Window:      time.Minute,
		Store:       failingRateStore{},
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitDisabledWithoutStore(t *testing.T) {
	router := newRateLimitedRouter(RateLimitConfig{
		Action:      "login",
		MaxRequests: 1,
		Window:      time.Minute,
	})

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}
}
