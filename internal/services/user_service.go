package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
	"github.com/campusgate/campusgate/pkg/logger"
	"github.com/campusgate/campusgate/pkg/metrics"
)

var (
	// ErrUserNotFound indicates that no user matches the supplied identifier.
	ErrUserNotFound = errors.New("user: not found")
	// ErrEmailExists signals a registration attempt with an already-taken email.
	ErrEmailExists = errors.New("user: email already registered")
	// ErrInvalidCredentials is returned for both unknown emails and wrong
	// passwords so callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("user: invalid credentials")
	// ErrEmailUnverified rejects logins for accounts that never confirmed their email.
	ErrEmailUnverified = errors.New("user: email not verified")
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email             string
	Password          string
	Name              string
	PreferredLanguage string
	TermsAccepted     bool
	MarketingConsent  bool
}

// UpdateProfileInput carries optional profile changes; nil fields are left untouched.
type UpdateProfileInput struct {
	Name              *string
	PreferredLanguage *string
	MarketingConsent  *bool
}

// UserService owns the user lifecycle: registration, credential checks,
// profile changes, and account erasure.
type UserService struct {
	db           *gorm.DB
	verification *EmailVerificationService
	sessions     *auth.SessionService
	now          func() time.Time
	log          *zap.Logger
}

// NewUserService constructs a UserService with the provided collaborators.
func NewUserService(db *gorm.DB, verification *EmailVerificationService, sessions *auth.SessionService) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	if verification == nil {
		return nil, errors.New("user service: verification service is required")
	}
	if sessions == nil {
		return nil, errors.New("user service: session service is required")
	}

	return &UserService{
		db:           db,
		verification: verification,
		sessions:     sessions,
		now:          time.Now,
		log:          logger.WithModule("users"),
	}, nil
}

// Register creates an unverified account and kicks off email verification.
// A duplicate email returns ErrEmailExists. Verification email delivery is
// best-effort: the account is created either way and the token can be
// re-issued later.
func (s *UserService) Register(ctx context.Context, input RegisterInput) (*models.User, error) {
	email := strings.TrimSpace(strings.ToLower(input.Email))
	if email == "" {
		return nil, errors.New("user service: email is required")
	}
	if input.Password == "" {
		return nil, errors.New("user service: password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	user := &models.User{
		Email:            email,
		Password:         hashed,
		Name:             strings.TrimSpace(input.Name),
		Role:             models.RoleApplicant,
		MarketingConsent: input.MarketingConsent,
	}
	if lang := strings.TrimSpace(input.PreferredLanguage); lang != "" {
		user.PreferredLanguage = lang
	}
	if input.TermsAccepted {
		now := s.now()
		user.TermsAcceptedAt = &now
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	if _, err := s.verification.CreateToken(ctx, user.ID, user.Email); err != nil {
		s.log.Warn("verification token issue failed", zap.Error(err), zap.String("user_id", user.ID))
	}

	return user, nil
}

// Authenticate checks an email/password pair. Unknown email and wrong
// password produce the identical ErrInvalidCredentials; a correct pair on an
// unverified account produces ErrEmailUnverified. On success the last-login
// bookkeeping is updated best-effort.
func (s *UserService) Authenticate(ctx context.Context, email, password, ipAddress string) (*models.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrInvalidCredentials
	}

	if !user.EmailVerified {
		metrics.AuthAttempts.WithLabelValues("unverified").Inc()
		return nil, ErrEmailUnverified
	}

	now := s.now()
	if err := s.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": strings.TrimSpace(ipAddress),
	}).Error; err != nil {
		s.log.Warn("last-login update failed", zap.Error(err), zap.String("user_id", user.ID))
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &user, nil
}

// GetByID loads a user by identifier.
func (s *UserService) GetByID(ctx context.Context, userID string) (*models.User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrUserNotFound
	}

	var user models.User
	err := s.db.WithContext(ctx).Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: find user: %w", err)
	}
	return &user, nil
}

// UpdateProfile applies the supplied profile changes.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*models.User, error) {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.PreferredLanguage != nil {
		if lang := strings.TrimSpace(*input.PreferredLanguage); lang != "" {
			updates["preferred_language"] = lang
		}
	}
	if input.MarketingConsent != nil {
		updates["marketing_consent"] = *input.MarketingConsent
	}
	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update profile: %w", err)
	}

	return s.GetByID(ctx, userID)
}

// ChangePassword replaces the credential after verifying the current one.
// Every session except the acting one is revoked.
func (s *UserService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !crypto.VerifyPassword(user.Password, currentPassword) {
		return ErrInvalidCredentials
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash password: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(user).Update("password", hashed).Error; err != nil {
		return fmt.Errorf("user service: update password: %w", err)
	}

	if err := s.sessions.RevokeOthers(ctx, userID, keepSessionID); err != nil {
		return fmt.Errorf("user service: revoke sessions: %w", err)
	}

	return nil
}

// Erase anonymises and soft-deletes the account after verifying the password.
// Sessions and outstanding tokens are destroyed; the audit trail keeps only
// the opaque user id.
func (s *UserService) Erase(ctx context.Context, userID, password string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !crypto.VerifyPassword(user.Password, password) {
		return ErrInvalidCredentials
	}

	if err := s.sessions.RevokeAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("user service: revoke sessions: %w", err)
	}

	scrambled, err := crypto.GenerateToken(32)
	if err != nil {
		return fmt.Errorf("user service: generate placeholder: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).
			Delete(&models.PasswordResetToken{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).
			Delete(&models.EmailVerificationToken{}).Error; err != nil {
			return err
		}

		if err := tx.Model(user).Updates(map[string]any{
			"email":             fmt.Sprintf("erased-%s@invalid.campusgate", user.ID),
			"password":          scrambled,
			"name":              "",
			"marketing_consent": false,
			"last_login_ip":     "",
		}).Error; err != nil {
			return err
		}

		return tx.Delete(user).Error
	})
	if err != nil {
		return fmt.Errorf("user service: erase account: %w", err)
	}

	return nil
}
