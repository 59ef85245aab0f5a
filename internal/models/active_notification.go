package models

import "time"

// Notification lifecycle states for the active inbox.
const (
	StatusUnread = "unread"
	StatusRead   = "read"
	StatusDelete = "delete"
)

// ActiveNotification is a row in a user's current inbox. The composite key
// (user_id, created_at) uses the canonical notification timestamp stamped at
// intake, so a redelivered queue message collides with the original row and
// overwrites it instead of duplicating it.
type ActiveNotification struct {
	UserID    string    `gorm:"primaryKey" json:"user_id"`
	CreatedAt time.Time `gorm:"primaryKey" json:"created_at"`

	NotificationID string `gorm:"index;not null" json:"notification_id"`
	Message        string `json:"message"`
	Status         string `gorm:"default:unread" json:"status"`
	Delivered      bool   `gorm:"default:false" json:"delivered"`
}
