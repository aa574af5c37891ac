package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session is the durable record of a bearer session. Only the SHA-256 hash of
// the raw token is persisted; the raw token is returned to the client exactly
// once at creation.
type Session struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID     string `gorm:"type:uuid;not null;index" json:"user_id"`
	User       *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
	TokenHash  string `gorm:"uniqueIndex;not null" json:"-"`
	CSRFSecret string `gorm:"not null" json:"-"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	RememberMe     bool      `gorm:"default:false" json:"remember_me"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Expired reports whether the session has passed its expiry at the supplied
// instant. Activity updates never extend ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
