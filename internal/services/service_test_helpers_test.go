package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/auth"
	testutil "github.com/campusgate/campusgate/internal/database/testutil"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/mail"
)

type recordingMailer struct {
	mu       sync.Mutex
	messages []mail.Message
}

func (m *recordingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
	return nil
}

func (m *recordingMailer) sent() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mail.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

type serviceFixture struct {
	db           *gorm.DB
	users        *UserService
	verification *EmailVerificationService
	resets       *PasswordResetService
	sessions     *auth.SessionService
	mailer       *recordingMailer
	clock        *testClock
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	clock := &testClock{current: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	mailer := &recordingMailer{}

	sessions, err := auth.NewSessionService(db, auth.SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	verification, err := NewEmailVerificationService(db, mailer,
		WithVerificationBaseURL("https://portal.example.edu"),
		WithVerificationClock(clock.Now),
	)
	require.NoError(t, err)

	resets, err := NewPasswordResetService(db, sessions, mailer,
		WithResetBaseURL("https://portal.example.edu"),
		WithResetClock(clock.Now),
	)
	require.NoError(t, err)

	users, err := NewUserService(db, verification, sessions)
	require.NoError(t, err)

	return &serviceFixture{
		db:           db,
		users:        users,
		verification: verification,
		resets:       resets,
		sessions:     sessions,
		mailer:       mailer,
		clock:        clock,
	}
}

func (f *serviceFixture) createVerifiedUser(t *testing.T, email, password string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(t, err)

	user := &models.User{
		Email:         email,
		Password:      hashed,
		Name:          "Fixture User",
		Role:          models.RoleApplicant,
		EmailVerified: true,
	}
	require.NoError(t, f.db.Create(user).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
