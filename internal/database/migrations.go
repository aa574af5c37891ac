package database

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/campusgate/campusgate/internal/models"
	"github.com/campusgate/campusgate/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.PasswordResetToken{},
		&models.EmailVerificationToken{},
		&models.CacheEntry{},
		&models.AuditLog{},
	)
}

// SeedAdmin creates a verified administrator account when none exists yet.
// It is a no-op when the email is empty or an admin is already present, so
// repeated start-ups never duplicate or overwrite the account.
func SeedAdmin(db *gorm.DB, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil
	}
	if password == "" {
		return errors.New("seed admin: password is required")
	}

	var count int64
	if err := db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return err
	}

	if name == "" {
		name = "Administrator"
	}

	admin := models.User{
		Email:         email,
		Password:      hash,
		Name:          name,
		Role:          models.RoleAdmin,
		EmailVerified: true,
	}

	return db.Where(models.User{Email: email}).Attrs(admin).FirstOrCreate(&models.User{}).Error
}
