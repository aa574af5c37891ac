package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles understood by the portal.
const (
	RoleApplicant = "applicant"
	RoleStaff     = "staff"
	RoleAdmin     = "admin"
)

// User is the root identity record. Sessions and single-use tokens belong to
// exactly one user and are invalidated transitively when credentials are
// reset or the account is erased.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Email    string `gorm:"uniqueIndex;not null" json:"email"`
	Password string `gorm:"not null" json:"-"`

	Name string `json:"name"`
	Role string `gorm:"default:applicant" json:"role"`

	EmailVerified bool       `gorm:"default:false" json:"email_verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`

	PreferredLanguage string `gorm:"default:en" json:"preferred_language"`
	TermsAcceptedAt   *time.Time `json:"terms_accepted_at,omitempty"`
	MarketingConsent  bool       `gorm:"default:false" json:"marketing_consent"`

	Sessions []Session `gorm:"foreignKey:UserID" json:"-"`

	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	LastLoginIP string     `json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// BeforeCreate ensures a UUID is present before persisting.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
