package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultSessionSpec        = "@hourly"
	defaultAuditSpec          = "@daily"
	defaultTokenSpec          = "@daily"
)

// Cleaner runs the background maintenance jobs: purging expired sessions,
// enforcing audit retention, and deleting dead tokens and cache rows.
type Cleaner struct {
	db        *gorm.DB
	sessions  *iauth.SessionService
	audit     *services.AuditService
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	sessionSchedule string
	auditSchedule   string
	tokenSchedule   string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are kept.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSessionSchedule overrides the cron expression for session cleanup.
func WithSessionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sessionSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron expression for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithTokenSchedule overrides the cron expression for token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependency is nil are skipped.
func NewCleaner(db *gorm.DB, sessions *iauth.SessionService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:              db,
		sessions:        sessions,
		audit:           audit,
		now:             time.Now,
		retention:       defaultAuditRetentionDays,
		sessionSchedule: defaultSessionSpec,
		auditSchedule:   defaultAuditSpec,
		tokenSchedule:   defaultTokenSpec,
		log:             logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

type job struct {
	name     string
	schedule string
	run      func(ctx context.Context) error
}

// jobs assembles the enabled maintenance jobs in a fixed order.
func (c *Cleaner) jobs() []job {
	var out []job

	if c.sessions != nil {
		out = append(out, job{
			name:     "sessions",
			schedule: c.sessionSchedule,
			run: func(ctx context.Context) error {
				_, err := c.sessions.CleanupExpired(ctx)
				return err
			},
		})
	}

	if c.audit != nil && c.retention > 0 {
		out = append(out, job{
			name:     "audit",
			schedule: c.auditSchedule,
			run: func(ctx context.Context) error {
				_, err := c.audit.CleanupOlderThan(ctx, c.retention)
				return err
			},
		})
	}

	if c.db != nil {
		out = append(out, job{
			name:     "tokens",
			schedule: c.tokenSchedule,
			run: func(ctx context.Context) error {
				_, err := CleanupTokens(ctx, c.db, c.now())
				return err
			},
		})
	}

	return out
}

// Start registers the jobs with the scheduler and launches it.
func (c *Cleaner) Start() error {
	jobs := c.jobs()
	if len(jobs) == 0 {
		return nil
	}

	for _, j := range jobs {
		j := j
		if _, err := c.cron.AddFunc(j.schedule, func() {
			if err := j.run(context.Background()); err != nil {
				c.log.Warn("maintenance job failed", zap.String("job", j.name), zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s job: %w", j.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every enabled job sequentially, collecting all failures.
// Used during graceful shutdown and in tests.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, j := range c.jobs() {
		if err := j.run(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", j.name, err))
		}
	}
	return errs
}

// TokenCleanupStats counts the rows removed per table.
type TokenCleanupStats struct {
	PasswordResets     int64
	EmailVerifications int64
	CacheEntries       int64
}

// CleanupTokens deletes expired reset tokens, verification tokens and
// database cache rows. Live rows are never touched; expiry is compared
// against the supplied clock so tests can pin time.
func CleanupTokens(ctx context.Context, db *gorm.DB, now time.Time) (TokenCleanupStats, error) {
	if db == nil {
		return TokenCleanupStats{}, errors.New("cleanup tokens: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var stats TokenCleanupStats
	targets := []struct {
		name  string
		model any
		count *int64
	}{
		{"password reset tokens", &models.PasswordResetToken{}, &stats.PasswordResets},
		{"email verification tokens", &models.EmailVerificationToken{}, &stats.EmailVerifications},
		{"cache entries", &models.CacheEntry{}, &stats.CacheEntries},
	}

	for _, target := range targets {
		result := db.WithContext(ctx).Where("expires_at < ?", now).Delete(target.model)
		if result.Error != nil {
			return stats, fmt.Errorf("cleanup tokens: %s: %w", target.name, result.Error)
		}
		*target.count = result.RowsAffected
	}

	return stats, nil
}
