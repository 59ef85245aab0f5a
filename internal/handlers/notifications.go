package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/telegraphhq/telegraph/internal/queue"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/response"
)

// NotificationHandler exposes the intake endpoint plus the dashboard views
// over the delivery audit log and the dead-letter queue.
type NotificationHandler struct {
	intake *services.IntakeService
	logs   *services.LogService
	dlq    *queue.Queue
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(intake *services.IntakeService, logs *services.LogService, dlq *queue.Queue) (*NotificationHandler, error) {
	if intake == nil {
		return nil, errors.New("handlers: intake service is required")
	}
	if logs == nil {
		return nil, errors.New("handlers: log service is required")
	}
	if dlq == nil {
		return nil, errors.New("handlers: dead-letter queue is required")
	}
	return &NotificationHandler{intake: intake, logs: logs, dlq: dlq}, nil
}

type submitRequest struct {
	UserID   string                           `json:"user_id" validate:"required"`
	Channels map[string]services.ChannelInput `json:"channels" validate:"required,min=1"`
}

// Submit accepts one notification request and fans it out to the queue. The
// response carries one result per requested channel; a channel-level failure
// shows up in its result without failing the sibling channels.
func (h *NotificationHandler) Submit(c *gin.Context) {
	var req submitRequest
	if !bindAndValidate(c, &req) {
		return
	}

	results, err := h.intake.Submit(c.Request.Context(), services.SubmitInput{
		UserID:   req.UserID,
		Channels: req.Channels,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusAccepted, gin.H{"results": results})
}

// Logs returns the delivery audit trail, optionally scoped to a single
// notification id.
func (h *NotificationHandler) Logs(c *gin.Context) {
	notificationID := strings.TrimSpace(c.Query("notification_id"))

	var (
		entries any
		err     error
	)
	if notificationID != "" {
		entries, err = h.logs.ListForNotification(c.Request.Context(), notificationID)
	} else {
		entries, err = h.logs.List(c.Request.Context())
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, entries)
}

// DeadLetters returns the undeliverable messages currently parked on the
// dead-letter queue. Inspection does not consume them; they reappear after
// the visibility timeout.
func (h *NotificationHandler) DeadLetters(c *gin.Context) {
	bodies, err := h.dlq.Drain(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"count":    len(bodies),
		"messages": bodies,
	})
}
