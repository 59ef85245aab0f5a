package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogRetention is how long delivery log entries are kept before pruning.
const LogRetention = 30 * 24 * time.Hour

// Delivery milestone statuses appended to the log. The status column is
// free text; these are the values written by this codebase.
const (
	StatusRequestReceived = "Notification request received."
	StatusChannelDisabled = "Notification not sent - channel disabled by user."
	StatusQueued          = "notification queued"
	StatusInAppSent       = "In-app notification sent."
	StatusEmailSent       = "Email sent."
	StatusEmailFailed     = "Email could not be sent."
	StatusChatSent        = "Chat message sent."
	StatusChatFailed      = "Chat message could not be sent."
)

// DeliveryLog is one immutable audit entry for a delivery milestone. Entries
// are only ever appended; TTL expiry is handled by the maintenance pruner.
type DeliveryLog struct {
	LogID          string    `gorm:"primaryKey" json:"log_id"`
	NotificationID string    `gorm:"index;not null" json:"notification_id"`
	UserID         string    `gorm:"index;not null" json:"user_id"`
	Channel        string    `gorm:"not null" json:"channel"`
	Status         string    `gorm:"not null" json:"status"`
	Message        string    `json:"message"`
	ReceiverEmail  string    `json:"receiver_email,omitempty"`
	Subject        string    `json:"subject,omitempty"`
	TTL            int64     `gorm:"column:ttl" json:"ttl"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate stamps identity, creation time and expiry for entries that
// were not fully resolved by the caller.
func (l *DeliveryLog) BeforeCreate(tx *gorm.DB) error {
	if l.LogID == "" {
		l.LogID = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	if l.TTL == 0 {
		l.TTL = l.CreatedAt.Add(LogRetention).Unix()
	}
	return nil
}
