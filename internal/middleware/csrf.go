package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/logger"
	"github.com/campusgate/campusgate/pkg/metrics"
	"github.com/campusgate/campusgate/pkg/response"
)

const (
	// CSRFCookieName is the script-readable cookie mirroring the per-session secret.
	CSRFCookieName = "campusgate_csrf"
	// CSRFHeaderName is the header clients present on state-changing requests.
	CSRFHeaderName = "X-CSRF-Token"
	// CSRFFieldName is the form-field alternative to the header.
	CSRFFieldName = "_csrf"
)

var unsafeMethods = map[string]struct{}{
	http.MethodPost:   {},
	http.MethodPut:    {},
	http.MethodPatch:  {},
	http.MethodDelete: {},
}

// CSRF guards state-changing requests with a double-submit check against the
// per-session secret: the client echoes, via header or form field, the secret
// it can only have read from the CSRF cookie or the login response. Read-only
// methods pass unconditionally. Must run after SessionAuth, which provides
// the session's secret. Rejections are audited.
func CSRF(audit *services.AuditService) gin.HandlerFunc {
	log := logger.WithModule("csrf")

	return func(c *gin.Context) {
		if !isUnsafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		principal, ok := PrincipalFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		presented := strings.TrimSpace(c.GetHeader(CSRFHeaderName))
		if presented == "" {
			presented = strings.TrimSpace(c.PostForm(CSRFFieldName))
		}

		if !crypto.ConstantTimeEqual(principal.CSRFSecret, presented) {
			metrics.CSRFRejections.Inc()
			log.Warn("csrf validation failed",
				// Never log token contents.
				zap.String("method", c.Request.Method),
				zap.String("path", c.FullPath()),
				zap.Bool("token_present", presented != ""),
			)
			if audit != nil {
				userID := principal.UserID
				audit.Record(services.AuditEntry{
					UserID:    &userID,
					Action:    services.AuditActionCSRFRejected,
					Result:    services.AuditResultDenied,
					IPAddress: c.ClientIP(),
					UserAgent: c.Request.UserAgent(),
					Metadata:  map[string]any{"path": c.FullPath(), "method": c.Request.Method},
				})
			}
			response.Error(c, errors.ErrCSRFInvalid)
			c.Abort()
			return
		}

		c.Next()
	}
}

// SetCSRFCookie mirrors the per-session secret into the script-readable CSRF
// cookie so browser clients can echo it back on unsafe requests.
func SetCSRFCookie(c *gin.Context, secret string, maxAge int) {
	c.SetSameSite(http.SameSiteStrictMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    secret,
		Path:     "/",
		Secure:   IsSecureRequest(c.Request),
		HttpOnly: false,
		MaxAge:   maxAge,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCSRFCookie removes the CSRF cookie, e.g. at logout.
func ClearCSRFCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    "",
		Path:     "/",
		Secure:   IsSecureRequest(c.Request),
		HttpOnly: false,
		MaxAge:   -1,
		SameSite: http.SameSiteStrictMode,
	})
}

// IsSecureRequest reports whether the request arrived over HTTPS, directly or
// via a terminating proxy.
func IsSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func isUnsafeMethod(method string) bool {
	_, ok := unsafeMethods[method]
	return ok
}
