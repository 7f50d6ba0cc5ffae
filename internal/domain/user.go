package domain

import "time"

type AuthMethod string

const (
	AuthMethodEmail AuthMethod = "email"
	AuthMethodOAuth AuthMethod = "oauth"
)

// User is an account record. Email deliberately carries no unique index:
// a user declining account linking may hold a second, independent account
// under the same address, distinguished by ID and auth method.
type User struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Email          string          `gorm:"size:254;index;not null" json:"email"`
	Name           string          `gorm:"size:128" json:"name"`
	Avatar         string          `gorm:"size:512" json:"avatar,omitempty"`
	PasswordHash   string          `gorm:"size:128" json:"-"`
	AuthMethod     AuthMethod      `gorm:"size:16;not null" json:"auth_method"`
	OAuthProvider  string          `gorm:"size:32" json:"oauth_provider,omitempty"`
	LockedAt       *time.Time      `gorm:"index" json:"-"`
	FailedAttempts int             `json:"-"`
	LastLoginAt    *time.Time      `json:"last_login_at,omitempty"`
	LinkedAccounts []LinkedAccount `gorm:"foreignKey:UserID" json:"linked_accounts,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// HasPassword reports whether the account can authenticate with credentials.
func (u *User) HasPassword() bool { return u.PasswordHash != "" }

// Locked reports whether the account is administratively locked.
func (u *User) Locked() bool { return u.LockedAt != nil }
