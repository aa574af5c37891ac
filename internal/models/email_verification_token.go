package models

import "time"

// EmailVerificationToken stores verification tokens for new registrations.
// Redemption marks the owning user verified and deletes the row.
type EmailVerificationToken struct {
	BaseModel

	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
