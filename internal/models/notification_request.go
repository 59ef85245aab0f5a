package models

import "time"

// Channel names understood by the delivery pipeline.
const (
	ChannelInApp = "in_app"
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

// ChannelBody carries the channel-specific payload of a notification request.
// Email requests resolve the recipient address at intake; chat requests
// resolve the webhook target from configuration.
type ChannelBody struct {
	Message       string `json:"message"`
	Subject       string `json:"subject,omitempty"`
	ReceiverEmail string `json:"receiver_email,omitempty"`
}

// NotificationRequest is the wire shape carried on the retry queue. One is
// produced per (user, channel) pair at intake; adapters reuse the same shape
// with Status set to append later delivery milestones through the queue.
type NotificationRequest struct {
	NotificationID string      `json:"notification_id"`
	UserID         string      `json:"user_id"`
	Channel        string      `json:"channel"`
	Status         string      `json:"status,omitempty"`
	CreatedAt      time.Time   `json:"created_at,omitempty"`
	Body           ChannelBody `json:"body"`
}
