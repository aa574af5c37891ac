package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/mail"
	"github.com/campusgate/campusgate/pkg/metrics"
)

const (
	defaultResetExpiry     = time.Hour
	defaultResetTokenBytes = 32
)

// ErrResetInvalid covers unknown, expired, and already-used reset tokens.
// The caller must report all three identically.
var ErrResetInvalid = errors.New("password reset: invalid or expired token")

// ResetOption customises the PasswordResetService.
type ResetOption func(*PasswordResetService)

// WithResetBaseURL sets the base URL used in reset links.
func WithResetBaseURL(url string) ResetOption {
	return func(s *PasswordResetService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithResetExpiry overrides the token lifetime.
func WithResetExpiry(d time.Duration) ResetOption {
	return func(s *PasswordResetService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithResetClock injects a custom time source.
func WithResetClock(clock func() time.Time) ResetOption {
	return func(s *PasswordResetService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// PasswordResetService issues and redeems the single-use tokens behind the
// forgot-password flow.
type PasswordResetService struct {
	db          *gorm.DB
	sessions    *auth.SessionService
	mailer      mail.Mailer
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewPasswordResetService constructs a reset service with the provided dependencies.
func NewPasswordResetService(db *gorm.DB, sessions *auth.SessionService, mailer mail.Mailer, opts ...ResetOption) (*PasswordResetService, error) {
	if db == nil {
		return nil, errors.New("password reset service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("password reset service: session service is required")
	}

	service := &PasswordResetService{
		db:          db,
		sessions:    sessions,
		mailer:      mailer,
		expiry:      defaultResetExpiry,
		tokenLength: defaultResetTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// Request issues a reset token for the account behind the email address, if
// one exists. An unknown email is not an error: the caller observes the exact
// same outcome either way, so the endpoint cannot be used to enumerate
// accounts. Issuing a new token invalidates all prior live tokens for the
// user, keeping at most one live token at a time.
func (s *PasswordResetService) Request(ctx context.Context, email string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("password reset service: find user: %w", err)
	}

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return fmt.Errorf("password reset service: generate token: %w", err)
	}

	reset := models.PasswordResetToken{
		UserID:    user.ID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: s.now().Add(s.expiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", user.ID).
			Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		return tx.Create(&reset).Error
	})
	if err != nil {
		return fmt.Errorf("password reset service: create token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues("reset").Inc()

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{user.Email},
			Subject: "Reset your CampusGate password",
			Body:    s.resetBody(s.resetLink(token)),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return fmt.Errorf("password reset service: send email: %w", mailErr)
		}
	}

	return nil
}

// Redeem consumes a reset token and replaces the user's credential. All of the
// user's sessions are revoked, forcing re-authentication everywhere, and the
// token is deleted so it cannot be replayed. Mismatch, expiry, and reuse all
// surface as the same generic error.
func (s *PasswordResetService) Redeem(ctx context.Context, rawToken, newPassword string) (*models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" || newPassword == "" {
		return nil, ErrResetInvalid
	}

	var reset models.PasswordResetToken
	err := s.db.WithContext(ctx).
		Take(&reset, "token_hash = ?", crypto.HashToken(rawToken)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResetInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("password reset service: find token: %w", err)
	}

	if reset.ExpiresAt.Before(s.now()) {
		return nil, ErrResetInvalid
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return nil, fmt.Errorf("password reset service: hash password: %w", err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&user, "id = ?", reset.UserID).Error; err != nil {
			return err
		}

		if err := tx.Model(&user).Update("password", hashed).Error; err != nil {
			return err
		}

		return tx.Where("user_id = ?", reset.UserID).
			Delete(&models.PasswordResetToken{}).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrResetInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("password reset service: redeem token: %w", err)
	}

	if err := s.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return nil, fmt.Errorf("password reset service: revoke sessions: %w", err)
	}

	user.Password = hashed
	return &user, nil
}

// CleanupExpired removes reset tokens past their expiry.
func (s *PasswordResetService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.PasswordResetToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("password reset service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *PasswordResetService) resetLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)
}

func (s *PasswordResetService) resetBody(link string) string {
	return fmt.Sprintf("We received a request to reset your CampusGate password.\n\nYou can choose a new password at the link below:\n%s\n\nThe link expires in one hour. If you did not request a reset, no action is needed.\n", link)
}
