package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/mail"
	"github.com/campusgate/campusgate/pkg/metrics"
)

const (
	defaultVerificationExpiry     = 10 * time.Minute
	defaultVerificationTokenBytes = 32
)

// ErrVerificationInvalid covers missing, expired, and already-consumed
// verification tokens. The caller must not be able to tell these apart.
var ErrVerificationInvalid = errors.New("email verification: invalid or expired token")

// VerificationOption customises the EmailVerificationService.
type VerificationOption func(*EmailVerificationService)

// WithVerificationBaseURL sets the base URL used in verification links.
func WithVerificationBaseURL(url string) VerificationOption {
	return func(s *EmailVerificationService) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithVerificationExpiry overrides the token lifetime.
func WithVerificationExpiry(d time.Duration) VerificationOption {
	return func(s *EmailVerificationService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithVerificationClock injects a custom time source.
func WithVerificationClock(clock func() time.Time) VerificationOption {
	return func(s *EmailVerificationService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// EmailVerificationService manages the single-use tokens that confirm a
// registrant controls the mailbox they signed up with.
type EmailVerificationService struct {
	db          *gorm.DB
	mailer      mail.Mailer
	baseURL     string
	expiry      time.Duration
	tokenLength int
	now         func() time.Time
}

// NewEmailVerificationService constructs a verification service with the provided dependencies.
func NewEmailVerificationService(db *gorm.DB, mailer mail.Mailer, opts ...VerificationOption) (*EmailVerificationService, error) {
	if db == nil {
		return nil, errors.New("email verification service: db is required")
	}

	service := &EmailVerificationService{
		db:          db,
		mailer:      mailer,
		expiry:      defaultVerificationExpiry,
		tokenLength: defaultVerificationTokenBytes,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(service)
	}

	return service, nil
}

// CreateToken issues a verification token for the given user and dispatches an
// email when a mailer is configured. Any prior token for the user is
// invalidated first, so at most one token is live at a time. Only the hash is
// persisted; the raw token travels in the emailed link.
func (s *EmailVerificationService) CreateToken(ctx context.Context, userID, email string) (string, error) {
	userID = strings.TrimSpace(userID)
	email = strings.TrimSpace(strings.ToLower(email))
	if userID == "" {
		return "", errors.New("email verification service: user id is required")
	}
	if email == "" {
		return "", errors.New("email verification service: email is required")
	}

	token, err := crypto.GenerateToken(s.tokenLength)
	if err != nil {
		return "", fmt.Errorf("email verification service: generate token: %w", err)
	}

	verification := models.EmailVerificationToken{
		UserID:    userID,
		TokenHash: crypto.HashToken(token),
		ExpiresAt: s.now().Add(s.expiry),
	}

	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&models.EmailVerificationToken{}).Error; err != nil {
		return "", fmt.Errorf("email verification service: cleanup existing: %w", err)
	}

	if err := s.db.WithContext(ctx).Create(&verification).Error; err != nil {
		return "", fmt.Errorf("email verification service: create token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues("verification").Inc()

	if s.mailer != nil {
		message := mail.Message{
			To:      []string{email},
			Subject: "Confirm your CampusGate account",
			Body:    s.verificationBody(s.verificationLink(token)),
		}
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			return "", fmt.Errorf("email verification service: send email: %w", mailErr)
		}
	}

	return token, nil
}

// Redeem consumes a verification token and marks the owning user as verified.
// The token is deleted on redemption, so a second attempt fails the same way
// an unknown or expired token does.
func (s *EmailVerificationService) Redeem(ctx context.Context, rawToken string) (*models.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrVerificationInvalid
	}

	var verification models.EmailVerificationToken
	err := s.db.WithContext(ctx).
		Take(&verification, "token_hash = ?", crypto.HashToken(rawToken)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerificationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("email verification service: find token: %w", err)
	}

	now := s.now()
	if verification.ExpiresAt.Before(now) {
		return nil, ErrVerificationInvalid
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&user, "id = ?", verification.UserID).Error; err != nil {
			return err
		}

		if err := tx.Model(&user).Updates(map[string]any{
			"email_verified": true,
			"verified_at":    now,
		}).Error; err != nil {
			return err
		}

		return tx.Delete(&models.EmailVerificationToken{}, "id = ?", verification.ID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVerificationInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("email verification service: redeem token: %w", err)
	}

	user.EmailVerified = true
	user.VerifiedAt = &now
	return &user, nil
}

// CleanupExpired removes verification tokens past their expiry.
func (s *EmailVerificationService) CleanupExpired(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", s.now()).
		Delete(&models.EmailVerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("email verification service: cleanup: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *EmailVerificationService) verificationLink(token string) string {
	if s.baseURL == "" {
		return token
	}
	return fmt.Sprintf("%s/verify-email/%s", s.baseURL, token)
}

func (s *EmailVerificationService) verificationBody(link string) string {
	return fmt.Sprintf("Welcome to CampusGate!\n\nPlease confirm your email address by visiting the link below:\n%s\n\nThe link is valid for a short time. If you did not create an account, you can ignore this message.\n", link)
}
