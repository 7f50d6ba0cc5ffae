package domain

import "time"

// LinkedAccount attaches an OAuth provider identity to a user. At most one
// link per provider per user; created only through the explicit linking
// flow, never silently.
type LinkedAccount struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index:idx_linked_user_provider,unique;not null" json:"user_id"`
	Provider   string    `gorm:"index:idx_linked_user_provider,unique;size:32;not null" json:"provider"`
	ProviderID string    `gorm:"size:128;index;not null" json:"provider_id"`
	Email      string    `gorm:"size:254;not null" json:"email"`
	LinkedAt   time.Time `gorm:"not null" json:"linked_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
