package models

import "time"

// User holds the contact attributes for a notification recipient.
// IDs are caller-supplied rather than generated: external systems address
// users by their own identifier.
type User struct {
	ID    string `gorm:"primaryKey" json:"id"`
	Name  string `gorm:"not null" json:"name"`
	Email string `json:"email"`

	LastSeen     *time.Time `json:"last_seen,omitempty"`
	LastNotified *time.Time `json:"last_notified,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
