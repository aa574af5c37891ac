package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/logger"
	"github.com/campusgate/campusgate/pkg/metrics"
	"github.com/campusgate/campusgate/pkg/response"
)

// ActorKeyFunc derives the counter key segment identifying the caller.
type ActorKeyFunc func(c *gin.Context) string

// ClientIPKey keys counters by the caller's IP address.
func ClientIPKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// EmailBodyKey keys counters by the lowercased email field of a JSON request
// body, so one address cannot be hammered from many source IPs. The body is
// restored for the handler. Requests without a parseable email fall back to
// the IP key.
func EmailBodyKey(c *gin.Context) string {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxKeyedBodyBytes))
	if err != nil {
		return ClientIPKey(c)
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))

	var body struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Email == "" {
		return ClientIPKey(c)
	}
	return "email:" + strings.ToLower(strings.TrimSpace(body.Email))
}

const maxKeyedBodyBytes = 1 << 16

// RateLimitConfig describes one fixed-window limit applied to a route.
type RateLimitConfig struct {
	// Action names the limited operation and namespaces its counters.
	Action      string
	MaxRequests int
	Window      time.Duration
	Store       RateStore
	Audit       *services.AuditService

	// Key identifies the actor being counted. Defaults to ClientIPKey.
	Key ActorKeyFunc
}

// RateLimit enforces a fixed-window counter per (action, actor). The limiter
// fails open: when the counter store is unreachable the request is allowed,
// since availability wins over strict enforcement during cache-tier outages.
// Responses carry X-RateLimit-* headers either way.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	log := logger.WithModule("ratelimit")

	keyFn := cfg.Key
	if keyFn == nil {
		keyFn = ClientIPKey
	}

	return func(c *gin.Context) {
		if cfg.MaxRequests <= 0 || cfg.Window <= 0 || cfg.Store == nil {
			c.Next()
			return
		}

		key := "ratelimit:" + cfg.Action + ":" + keyFn(c)

		count, ttl, err := cfg.Store.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			log.Warn("rate limit store unavailable, failing open",
				zap.Error(err),
				zap.String("action", cfg.Action),
			)
			c.Next()
			return
		}

		remaining := cfg.MaxRequests - count
		if remaining < 0 {
			remaining = 0
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.MaxRequests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Round(time.Second).Seconds())))

		if count > cfg.MaxRequests {
			metrics.RateLimitDrops.WithLabelValues(cfg.Action).Inc()
			if cfg.Audit != nil {
				cfg.Audit.Record(services.AuditEntry{
					Action:    services.AuditActionRateLimited,
					Result:    services.AuditResultDenied,
					IPAddress: c.ClientIP(),
					UserAgent: c.Request.UserAgent(),
					Metadata:  map[string]any{"action": cfg.Action, "count": count},
				})
			}
			response.Error(c, errors.ErrRateLimit)
			c.Abort()
			return
		}

		c.Next()
	}
}
