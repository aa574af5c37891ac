package models

import "time"

// PasswordResetToken is a single-use credential reset token. Only the token
// hash is stored; redemption deletes the row. At most one live token exists
// per user because issuing a new one removes all prior rows.
type PasswordResetToken struct {
	BaseModel

	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}
