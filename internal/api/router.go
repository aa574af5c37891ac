package api

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/app"
	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/handlers"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/internal/services"
)

// Deps bundles the services the router wires into handlers.
type Deps struct {
	DB           *gorm.DB
	Config       *app.Config
	Sessions     *iauth.SessionService
	Users        *services.UserService
	Verification *services.EmailVerificationService
	Resets       *services.PasswordResetService
	Audit        *services.AuditService

	// RateStore backs the per-endpoint limiters. Nil disables limiting.
	RateStore middleware.RateStore
}

// NewRouter builds the Gin engine, wires middleware and registers routes.
func NewRouter(deps Deps) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session service must be provided")
	}
	if deps.Users == nil {
		return nil, fmt.Errorf("user service must be provided")
	}
	if deps.Verification == nil {
		return nil, fmt.Errorf("verification service must be provided")
	}
	if deps.Resets == nil {
		return nil, fmt.Errorf("password reset service must be provided")
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())

	if deps.Config.Monitoring.Health.Enabled {
		r.GET("/health", handlers.Health(deps.DB))
	}
	if deps.Config.Monitoring.Prometheus.Enabled {
		endpoint := deps.Config.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	authHandler := handlers.NewAuthHandler(deps.Users, deps.Sessions, deps.Verification, deps.Resets, deps.Audit)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Audit)
	profileHandler := handlers.NewProfileHandler(deps.Users)
	auditHandler := handlers.NewAuditHandler(deps.Audit)

	limits := deps.Config.Auth.RateLimit
	limit := func(action string, rule app.RateLimitRule, key middleware.ActorKeyFunc) gin.HandlerFunc {
		return middleware.RateLimit(middleware.RateLimitConfig{
			Action:      action,
			MaxRequests: rule.MaxRequests,
			Window:      rule.Window,
			Store:       deps.RateStore,
			Audit:       deps.Audit,
			Key:         key,
		})
	}

	// Public routes. Login is throttled both by source IP and by the targeted
	// account; password reset requests by the targeted address, which keeps a
	// single mailbox from being flooded via many source IPs.
	r.POST("/register", limit("register", limits.Register, nil), authHandler.Register)
	r.GET("/verify-email/:token", authHandler.VerifyEmail)
	r.POST("/login",
		limit("login", limits.Login, nil),
		limit("login_account", limits.Login, middleware.EmailBodyKey),
		authHandler.Login)
	r.POST("/forgot-password", limit("password_reset", limits.PasswordReset, middleware.EmailBodyKey), authHandler.ForgotPassword)
	r.POST("/reset-password", limit("password_reset_redeem", limits.PasswordReset, nil), authHandler.ResetPassword)

	// Routes behind an authenticated session. State-changing requests must
	// also present the session's CSRF token.
	authed := r.Group("/")
	authed.Use(middleware.SessionAuth(deps.Sessions))
	authed.Use(middleware.CSRF(deps.Audit))
	{
		authed.POST("/logout", authHandler.Logout)
		authed.GET("/me", authHandler.Me)
		authed.PATCH("/me", profileHandler.Update)
		authed.POST("/change-password", authHandler.ChangePassword)
		authed.GET("/sessions", sessionHandler.List)
		authed.POST("/sessions/revoke/:id", sessionHandler.Revoke)
		authed.POST("/account/erase", authHandler.EraseAccount)
		authed.GET("/audit", middleware.RequireRole(models.RoleAdmin, models.RoleStaff), auditHandler.List)
	}

	r.NoRoute(middleware.NotFoundHandler)

	return r, nil
}
