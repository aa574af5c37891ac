package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/api"
	"github.com/campusgate/campusgate/internal/app"
	"github.com/campusgate/campusgate/internal/app/maintenance"
	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/cache"
	"github.com/campusgate/campusgate/internal/database"
	"github.com/campusgate/campusgate/internal/middleware"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/logger"
	"github.com/campusgate/campusgate/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB         *gorm.DB
	Redis      *cache.RedisStore
	SessionSvc *iauth.SessionService
	AuditSvc   *services.AuditService
	Cleaner    *maintenance.Cleaner
	Router     *gin.Engine
}

// bootstrapRuntime initialises the database, cache tier, services, and the
// HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	// The database store backs sessions and rate limiting when Redis is not
	// available. Counters degrade to row-lock transactions in that mode.
	var store cache.Store = cache.NewDatabaseStore(stack.DB)

	if cfg.Cache.Redis.Enabled {
		redisStore, redisErr := cache.NewRedisStore(cfg.Cache.RedisClientConfig())
		if redisErr != nil {
			log.Warn("redis unavailable; falling back to database-backed operations", zap.Error(redisErr))
		} else {
			stack.Redis = redisStore
			store = redisStore
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewStoreSessionCache(store)

	stack.SessionSvc, err = iauth.NewSessionService(stack.DB, sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise mailer: %w", err)
	}

	verificationSvc, err := services.NewEmailVerificationService(stack.DB, mailer,
		services.WithVerificationBaseURL(cfg.Server.BaseURL),
		services.WithVerificationExpiry(cfg.Auth.Verification.Expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise verification service: %w", err)
	}

	resetSvc, err := services.NewPasswordResetService(stack.DB, stack.SessionSvc, mailer,
		services.WithResetBaseURL(cfg.Server.BaseURL),
		services.WithResetExpiry(cfg.Auth.Reset.Expiry),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise password reset service: %w", err)
	}

	userSvc, err := services.NewUserService(stack.DB, verificationSvc, stack.SessionSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = maintenance.NewCleaner(stack.DB, stack.SessionSvc, stack.AuditSvc,
			maintenance.WithAuditRetentionDays(cfg.Maintenance.AuditRetentionDays),
			maintenance.WithSessionSchedule(cfg.Maintenance.SessionSchedule),
			maintenance.WithAuditSchedule(cfg.Maintenance.AuditSchedule),
			maintenance.WithTokenSchedule(cfg.Maintenance.TokenSchedule),
		)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
	}

	stack.Router, err = api.NewRouter(api.Deps{
		DB:           stack.DB,
		Config:       cfg,
		Sessions:     stack.SessionSvc,
		Users:        userSvc,
		Verification: verificationSvc,
		Resets:       resetSvc,
		Audit:        stack.AuditSvc,
		RateStore:    middleware.NewStoreRateStore(store),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.StoreConfig()
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	admin := cfg.Auth.Admin
	if err := database.SeedAdmin(db, admin.Email, admin.Password, admin.Name); err != nil {
		return nil, fmt.Errorf("seed admin account: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
