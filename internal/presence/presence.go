package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/dispatch"
	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/realtime"
	"github.com/telegraphhq/telegraph/internal/services"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
	"github.com/telegraphhq/telegraph/pkg/logger"
)

// Queue is the producer side of the retry queue used for milestone records.
type Queue interface {
	Enqueue(ctx context.Context, body []byte) error
}

// Service owns what push connections mean: the initial sync on connect,
// live broadcast of fresh notifications, and inbound client actions. It
// implements realtime.EventHandler and dispatch.Broadcaster.
type Service struct {
	hub           *realtime.Hub
	notifications *services.NotificationService
	prefs         *services.PreferenceService
	queue         Queue
	log           *zap.Logger
}

// New constructs a presence Service.
func New(hub *realtime.Hub, notifications *services.NotificationService, prefs *services.PreferenceService, q Queue) (*Service, error) {
	if hub == nil {
		return nil, errors.New("presence: hub is required")
	}
	if notifications == nil {
		return nil, errors.New("presence: notification service is required")
	}
	if prefs == nil {
		return nil, errors.New("presence: preference service is required")
	}
	if q == nil {
		return nil, errors.New("presence: queue is required")
	}
	return &Service{
		hub:           hub,
		notifications: notifications,
		prefs:         prefs,
		queue:         q,
		log:           logger.WithModule("presence"),
	}, nil
}

// HandleConnect pushes the initial sync: the full inbox plus the preference
// row, followed by delivery flagging for anything stored while the user was
// offline. Sync failures are logged, never fatal; the connection stays up.
func (s *Service) HandleConnect(ctx context.Context, userID string) {
	s.sync(ctx, userID)
}

// Broadcast pushes one stored notification to the user's live connection.
// Users without a live connection keep the row undelivered for replay on
// next connect; either way a milestone record lands on the queue.
func (s *Service) Broadcast(ctx context.Context, notification models.ActiveNotification) error {
	pushed := s.hub.PushToUser(notification.UserID, realtime.Message{
		Topic:         realtime.TopicNotification,
		Notifications: []models.ActiveNotification{notification},
	})

	if !pushed {
		return s.recordMilestone(ctx, notification, models.StatusQueued)
	}

	if err := s.notifications.MarkDelivered(ctx, notification.UserID, notification.CreatedAt); err != nil {
		return err
	}
	return s.recordMilestone(ctx, notification, models.StatusInAppSent)
}

// HandleAction processes one inbound client message.
func (s *Service) HandleAction(ctx context.Context, userID string, msg realtime.ClientMessage) {
	var err error
	switch msg.Action {
	case "initialData":
		s.sync(ctx, userID)
	case "broadcast":
		err = s.deliverPending(ctx, userID)
	case "updateNotification":
		err = s.updateNotification(ctx, userID, msg.Body)
	case "updatePreference":
		err = s.updatePreference(ctx, userID, msg.Body)
	default:
		s.log.Warn("unknown action",
			zap.String("user_id", userID),
			zap.String("action", msg.Action),
		)
		return
	}

	if err != nil {
		s.log.Warn("action failed",
			zap.String("user_id", userID),
			zap.String("action", msg.Action),
			zap.Error(err),
		)
	}
}

// sync sends initial_data and flags offline notifications as delivered.
func (s *Service) sync(ctx context.Context, userID string) {
	rows, err := s.notifications.ListForUser(ctx, userID)
	if err != nil {
		s.log.Error("initial sync: list inbox failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	pref, err := s.prefs.Get(ctx, userID)
	if err != nil {
		s.log.Error("initial sync: load preference failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if !s.hub.PushToUser(userID, realtime.Message{
		Topic:         realtime.TopicInitialData,
		Notifications: rows,
		Preference:    pref,
	}) {
		return
	}

	for _, row := range rows {
		if row.Delivered {
			continue
		}
		if err := s.notifications.MarkDelivered(ctx, userID, row.CreatedAt); err != nil {
			s.log.Warn("initial sync: mark delivered failed",
				zap.String("user_id", userID),
				zap.String("notification_id", row.NotificationID),
				zap.Error(err),
			)
			continue
		}
		if err := s.recordMilestone(ctx, row, models.StatusInAppSent); err != nil {
			s.log.Warn("initial sync: milestone failed",
				zap.String("notification_id", row.NotificationID),
				zap.Error(err),
			)
		}
	}
}

// deliverPending re-pushes undelivered inbox rows to a live connection.
func (s *Service) deliverPending(ctx context.Context, userID string) error {
	rows, err := s.notifications.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Delivered {
			continue
		}
		if err := s.Broadcast(ctx, row); err != nil {
			return err
		}
	}
	return nil
}

type updateNotificationBody struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
}

func (s *Service) updateNotification(ctx context.Context, userID string, body json.RawMessage) error {
	var input updateNotificationBody
	if err := json.Unmarshal(body, &input); err != nil {
		return err
	}

	row, err := s.notifications.FindByNotificationID(ctx, input.NotificationID)
	if err != nil {
		return err
	}

	var actionErr error
	switch input.Status {
	case models.StatusRead:
		_, actionErr = s.notifications.MarkRead(ctx, input.NotificationID)
	case models.StatusDelete:
		_, actionErr = s.notifications.Delete(ctx, input.NotificationID)
	default:
		actionErr = apperrors.ErrInvalidStatus.WithInternal(fmt.Errorf("status %q", input.Status))
	}

	// The acknowledgement attempt is recorded whether or not the status
	// was valid.
	if err := s.recordAck(ctx, *row, input.Status); err != nil {
		s.log.Warn("acknowledgement record failed",
			zap.String("notification_id", row.NotificationID),
			zap.Error(err),
		)
	}
	if actionErr != nil {
		// The caller hears about the rejection over the socket.
		s.hub.PushToUser(userID, realtime.Message{
			Topic:          realtime.TopicError,
			Status:         input.Status,
			NotificationID: row.NotificationID,
			Error:          apperrors.FromError(actionErr).Message,
		})
		return actionErr
	}

	s.hub.PushToUser(userID, realtime.Message{
		Topic:          realtime.TopicNotifUpdated,
		Status:         input.Status,
		NotificationID: row.NotificationID,
	})
	return nil
}

type updatePreferenceBody struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
	Chat  bool `json:"chat"`
}

func (s *Service) updatePreference(ctx context.Context, userID string, body json.RawMessage) error {
	var input updatePreferenceBody
	if err := json.Unmarshal(body, &input); err != nil {
		return err
	}

	pref := models.UserPreference{
		UserID: userID,
		InApp:  input.InApp,
		Email:  input.Email,
		Chat:   input.Chat,
	}
	if err := s.prefs.Put(ctx, pref); err != nil {
		return err
	}

	s.hub.PushToUser(userID, realtime.Message{
		Topic:      realtime.TopicPreference,
		Preference: pref,
	})
	return nil
}

// recordAck enqueues an acknowledgement record for the audit log.
// Acknowledgements ride the bare wire shape.
func (s *Service) recordAck(ctx context.Context, row models.ActiveNotification, status string) error {
	body, err := json.Marshal(models.NotificationRequest{
		NotificationID: row.NotificationID,
		UserID:         row.UserID,
		Channel:        models.ChannelInApp,
		Status:         status,
		Body:           models.ChannelBody{Message: row.Message},
	})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, body)
}

// recordMilestone enqueues a status record for the audit log. Milestones keep
// the legacy envelope shape on the wire.
func (s *Service) recordMilestone(ctx context.Context, row models.ActiveNotification, status string) error {
	body, err := dispatch.WrapLegacy(&models.NotificationRequest{
		NotificationID: row.NotificationID,
		UserID:         row.UserID,
		Channel:        models.ChannelInApp,
		Status:         status,
		Body:           models.ChannelBody{Message: row.Message},
	})
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, body)
}
