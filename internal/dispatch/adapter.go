package dispatch

import (
	"context"

	"github.com/telegraphhq/telegraph/internal/models"
)

// Adapter delivers one notification request over a single channel. A nil
// return acknowledges the queue message; delivery failures an adapter has
// already recorded in the audit log are terminal and return nil. Only
// infrastructure errors (store or queue writes) propagate so the message is
// redelivered.
type Adapter interface {
	Deliver(ctx context.Context, request *models.NotificationRequest) error
}

// Broadcaster pushes a stored notification to the owning user's live
// connection, or records it for replay on the next connect.
type Broadcaster interface {
	Broadcast(ctx context.Context, notification models.ActiveNotification) error
}
