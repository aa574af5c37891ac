package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/pkg/errors"
	"github.com/campusgate/campusgate/pkg/response"
)

const (
	CtxPrincipalKey    = "authPrincipal"
	CtxUserIDKey       = "userID"
	CtxSessionIDKey    = "sessionID"
	CtxSessionTokenKey = "sessionToken"

	// SessionCookieName carries the opaque bearer token.
	SessionCookieName = "campusgate_session"
)

// SessionAuth authenticates requests by resolving the bearer session token,
// taken from the session cookie or an Authorization header, through the
// session service. All failures normalise to 401 without detail.
func SessionAuth(sessions *iauth.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		if token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		principal, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxPrincipalKey, principal)
		c.Set(CtxUserIDKey, principal.UserID)
		c.Set(CtxSessionIDKey, principal.SessionID)
		c.Set(CtxSessionTokenKey, token)

		c.Next()
	}
}

// RequireRole allows only principals holding one of the listed roles. It must
// run after SessionAuth.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *gin.Context) {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// PrincipalFromContext retrieves the authenticated principal set by SessionAuth.
func PrincipalFromContext(c *gin.Context) (*iauth.Principal, bool) {
	value, exists := c.Get(CtxPrincipalKey)
	if !exists {
		return nil, false
	}
	principal, ok := value.(*iauth.Principal)
	return principal, ok && principal != nil
}

// SessionTokenFromContext returns the raw bearer token of the current request.
func SessionTokenFromContext(c *gin.Context) string {
	return c.GetString(CtxSessionTokenKey)
}

func sessionToken(c *gin.Context) string {
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		if token := strings.TrimSpace(cookie); token != "" {
			return token
		}
	}

	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}

	return ""
}
