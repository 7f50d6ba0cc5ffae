package domain

import "time"

// Session is a server-side authenticated session. The browser holds only a
// signed token whose jti equals TokenID; the CSRF token is rotated on every
// login and refresh. ExpiresAt only ever moves forward.
type Session struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	UserID        uint       `gorm:"index;not null" json:"user_id"`
	TokenID       string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	CSRFToken     string     `gorm:"size:64;not null" json:"-"`
	AuthMethod    AuthMethod `gorm:"size:16;not null" json:"auth_method"`
	UserAgent     string     `gorm:"size:512" json:"user_agent"`
	IP            string     `gorm:"size:64" json:"ip"`
	ExpiresAt     time.Time  `gorm:"index;not null" json:"expires_at"`
	LastValidated time.Time  `json:"last_validated"`
	RevokedAt     *time.Time `gorm:"index" json:"revoked_at,omitempty"`
	RevokedReason *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Expired reports whether the session is past its deadline. Expiry is
// checked lazily on access; there is no background sweep.
func (s *Session) Expired(now time.Time) bool { return !now.Before(s.ExpiresAt) }

// Active reports whether the session may still be used.
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && !s.Expired(now)
}
