package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/logger"
)

// InAppAdapter stores a notification in the user's inbox and hands it to the
// broadcaster for live push. Storage happens first so a crash between store
// and push only costs the push; the row is replayed on next connect.
type InAppAdapter struct {
	notifications *services.NotificationService
	broadcaster   Broadcaster
	log           *zap.Logger
}

// NewInAppAdapter constructs an InAppAdapter.
func NewInAppAdapter(notifications *services.NotificationService, broadcaster Broadcaster) (*InAppAdapter, error) {
	if notifications == nil {
		return nil, errors.New("dispatch: notification service is required")
	}
	if broadcaster == nil {
		return nil, errors.New("dispatch: broadcaster is required")
	}
	return &InAppAdapter{
		notifications: notifications,
		broadcaster:   broadcaster,
		log:           logger.WithModule("dispatch.inapp"),
	}, nil
}

// Deliver upserts the inbox row keyed on the request's canonical timestamp,
// then broadcasts it. Redelivered messages collide with the original row, so
// the user never sees the notification twice.
func (a *InAppAdapter) Deliver(ctx context.Context, request *models.NotificationRequest) error {
	row, err := a.notifications.Create(ctx, services.CreateActiveInput{
		NotificationID: request.NotificationID,
		UserID:         request.UserID,
		Message:        request.Body.Message,
		CreatedAt:      request.CreatedAt,
	})
	if err != nil {
		return err
	}

	if err := a.broadcaster.Broadcast(ctx, *row); err != nil {
		return err
	}

	a.log.Info("in-app notification stored",
		zap.String("user_id", request.UserID),
		zap.String("notification_id", request.NotificationID),
	)
	return nil
}
