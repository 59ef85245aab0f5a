package models

import "time"

// Connection maps a live push connection to a user. Rows are written on
// connect and removed on explicit disconnect only; a stale row self-corrects
// on the next connect or disconnect event.
type Connection struct {
	ConnectionID string    `gorm:"primaryKey" json:"connection_id"`
	UserID       string    `gorm:"index;not null" json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
}
