package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/auth"
	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
)

func TestRegisterCreatesUnverifiedApplicant(t *testing.T) {
	f := newServiceFixture(t)

	user, err := f.users.Register(context.Background(), RegisterInput{
		Email:         "Alice@Example.EDU",
		Password:      "a strong passphrase",
		Name:          "Alice",
		TermsAccepted: true,
	})
	require.NoError(t, err)

	require.Equal(t, "alice@example.edu", user.Email)
	require.Equal(t, models.RoleApplicant, user.Role)
	require.False(t, user.EmailVerified)
	require.NotNil(t, user.TermsAcceptedAt)
	require.NotEqual(t, "a strong passphrase", user.Password)
	require.True(t, crypto.VerifyPassword(user.Password, "a strong passphrase"))

	// Registration issues a verification token and mails the link.
	var tokenCount int64
	require.NoError(t, f.db.Model(&models.EmailVerificationToken{}).
		Where("user_id = ?", user.ID).Count(&tokenCount).Error)
	require.EqualValues(t, 1, tokenCount)
	require.Len(t, f.mailer.sent(), 1)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.users.Register(context.Background(), RegisterInput{
		Email:    "taken@example.edu",
		Password: "first password",
	})
	require.NoError(t, err)

	_, err = f.users.Register(context.Background(), RegisterInput{
		Email:    "taken@example.edu",
		Password: "second password",
	})
	require.ErrorIs(t, err, ErrEmailExists)
}

func TestAuthenticate(t *testing.T) {
	f := newServiceFixture(t)
	f.createVerifiedUser(t, "login@example.edu", "correct password")

	user, err := f.users.Authenticate(context.Background(), "login@example.edu", "correct password", "198.51.100.7")
	require.NoError(t, err)
	require.NotNil(t, user.LastLoginAt)

	// Unknown email and wrong password yield the identical error.
	_, err = f.users.Authenticate(context.Background(), "nobody@example.edu", "correct password", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.users.Authenticate(context.Background(), "login@example.edu", "wrong password", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUnverifiedAccount(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.users.Register(context.Background(), RegisterInput{
		Email:    "pending@example.edu",
		Password: "valid password",
	})
	require.NoError(t, err)

	_, err = f.users.Authenticate(context.Background(), "pending@example.edu", "valid password", "")
	require.ErrorIs(t, err, ErrEmailUnverified)
}

func TestUpdateProfile(t *testing.T) {
	f := newServiceFixture(t)
	user := f.createVerifiedUser(t, "profile@example.edu", "pw pw pw pw")

	name := "Renamed"
	lang := "fr"
	consent := true
	updated, err := f.users.UpdateProfile(context.Background(), user.ID, UpdateProfileInput{
		Name:              &name,
		PreferredLanguage: &lang,
		MarketingConsent:  &consent,
	})
	require.NoError(t, err)
	require.Equal(t, "Renamed", updated.Name)
	require.Equal(t, "fr", updated.PreferredLanguage)
	require.True(t, updated.MarketingConsent)
}

func TestChangePasswordRevokesOtherSessions(t *testing.T) {
	f := newServiceFixture(t)
	user := f.createVerifiedUser(t, "change@example.edu", "old password")

	ctx := context.Background()
	keepToken, keepSession, err := f.sessions.Create(ctx, user, auth.SessionMetadata{}, false)
	require.NoError(t, err)
	otherToken, _, err := f.sessions.Create(ctx, user, auth.SessionMetadata{}, false)
	require.NoError(t, err)

	require.ErrorIs(t,
		f.users.ChangePassword(ctx, user.ID, "wrong", "new password", keepSession.ID),
		ErrInvalidCredentials)

	require.NoError(t, f.users.ChangePassword(ctx, user.ID, "old password", "new password", keepSession.ID))

	reloaded, err := f.users.GetByID(ctx, user.ID)
	require.NoError(t, err)
	require.True(t, crypto.VerifyPassword(reloaded.Password, "new password"))

	_, err = f.sessions.Validate(ctx, keepToken)
	require.NoError(t, err)
	_, err = f.sessions.Validate(ctx, otherToken)
	require.Error(t, err)
}

func TestEraseAnonymisesAccount(t *testing.T) {
	f := newServiceFixture(t)
	user := f.createVerifiedUser(t, "erase@example.edu", "goodbye world")

	ctx := context.Background()
	token, _, err := f.sessions.Create(ctx, user, auth.SessionMetadata{}, false)
	require.NoError(t, err)

	require.ErrorIs(t, f.users.Erase(ctx, user.ID, "wrong password"), ErrInvalidCredentials)
	require.NoError(t, f.users.Erase(ctx, user.ID, "goodbye world"))

	_, err = f.users.GetByID(ctx, user.ID)
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.sessions.Validate(ctx, token)
	require.Error(t, err)

	// The original email must be free for re-registration.
	_, err = f.users.Register(ctx, RegisterInput{
		Email:    "erase@example.edu",
		Password: "a fresh start",
	})
	require.NoError(t, err)
}
