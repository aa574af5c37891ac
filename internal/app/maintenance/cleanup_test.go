package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/campusgate/campusgate/internal/auth"
	testutil "github.com/campusgate/campusgate/internal/database/testutil"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/internal/services"
	"github.com/campusgate/campusgate/pkg/crypto"
)

func TestCleanupTokens(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Date(2025, 2, 10, 15, 0, 0, 0, time.UTC)

	expiredReset := models.PasswordResetToken{
		UserID:    "user-expired",
		TokenHash: "reset-expired",
		ExpiresAt: now.Add(-time.Hour),
	}
	activeReset := models.PasswordResetToken{
		UserID:    "user-active",
		TokenHash: "reset-active",
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.Create(&expiredReset).Error)
	require.NoError(t, db.Create(&activeReset).Error)

	expiredVerification := models.EmailVerificationToken{
		UserID:    "user-expired",
		TokenHash: "verify-expired",
		ExpiresAt: now.Add(-time.Hour),
	}
	activeVerification := models.EmailVerificationToken{
		UserID:    "user-active",
		TokenHash: "verify-active",
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, db.Create(&expiredVerification).Error)
	require.NoError(t, db.Create(&activeVerification).Error)

	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "stale",
		Value:     []byte("x"),
		ExpiresAt: now.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "fresh",
		Value:     []byte("y"),
		ExpiresAt: now.Add(time.Minute),
	}).Error)

	stats, err := CleanupTokens(context.Background(), db, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.PasswordResets)
	require.Equal(t, int64(1), stats.EmailVerifications)
	require.Equal(t, int64(1), stats.CacheEntries)

	assertRemaining := func(model any, expected int64) {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		require.Equal(t, expected, count)
	}

	assertRemaining(&models.PasswordResetToken{}, 1)
	assertRemaining(&models.EmailVerificationToken{}, 1)
	assertRemaining(&models.CacheEntry{}, 1)
}

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	clock := fixedClock{current: time.Date(2025, 5, 20, 9, 0, 0, 0, time.UTC)}

	sessionSvc, err := iauth.NewSessionService(db, iauth.SessionConfig{
		SessionTTL: time.Hour,
		Clock:      clock.Now,
	})
	require.NoError(t, err)

	user := seedUser(t, db, "cleanup-user@example.edu")

	_, expiredSession, err := sessionSvc.Create(context.Background(), user, iauth.SessionMetadata{}, false)
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Session{}).Where("id = ?", expiredSession.ID).
		Update("expires_at", clock.Now().Add(-2*time.Hour)).Error)

	_, activeSession, err := sessionSvc.Create(context.Background(), user, iauth.SessionMetadata{}, false)
	require.NoError(t, err)

	// Seed an audit log older than the retention window.
	require.NoError(t, auditSvc.Log(context.Background(), services.AuditEntry{
		Action: "auth.login",
		Result: services.AuditResultSuccess,
		Email:  user.Email,
	}))
	var auditLog models.AuditLog
	require.NoError(t, db.First(&auditLog).Error)
	oldTimestamp := clock.Now().AddDate(0, 0, -10)
	require.NoError(t, db.Model(&auditLog).Update("created_at", oldTimestamp).Error)

	require.NoError(t, db.Create(&models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: "reset-hash",
		ExpiresAt: clock.Now().Add(-time.Hour),
	}).Error)
	require.NoError(t, db.Create(&models.EmailVerificationToken{
		UserID:    user.ID,
		TokenHash: "verify-hash",
		ExpiresAt: clock.Now().Add(-time.Hour),
	}).Error)

	c := NewCleaner(db, sessionSvc, auditSvc,
		WithNow(clock.Now),
		WithAuditRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var s models.Session
	err = db.First(&s, "id = ?", expiredSession.ID).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	var remaining models.Session
	require.NoError(t, db.First(&remaining, "id = ?", activeSession.ID).Error)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&auditCount).Error)
	require.Equal(t, int64(0), auditCount)

	var tokenCount int64
	require.NoError(t, db.Model(&models.PasswordResetToken{}).Count(&tokenCount).Error)
	require.Equal(t, int64(0), tokenCount)
	require.NoError(t, db.Model(&models.EmailVerificationToken{}).Count(&tokenCount).Error)
	require.Equal(t, int64(0), tokenCount)
}

func TestCleanerStartAndStop(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	c := NewCleaner(db, nil, nil,
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)
	require.NoError(t, c.Start())

	ctx := c.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop in time")
	}
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	hash, err := crypto.HashPassword("Password123!")
	require.NoError(t, err)

	user := &models.User{
		Email:         email,
		Password:      hash,
		EmailVerified: true,
		Role:          models.RoleApplicant,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type fixedClock struct {
	current time.Time
}

func (c *fixedClock) Now() time.Time {
	return c.current
}
