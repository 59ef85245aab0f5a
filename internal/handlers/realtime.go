package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/auth"
	"github.com/telegraphhq/telegraph/internal/realtime"
	"github.com/telegraphhq/telegraph/internal/services"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
	"github.com/telegraphhq/telegraph/pkg/logger"
	"github.com/telegraphhq/telegraph/pkg/response"
)

// RealtimeHandler upgrades authenticated clients onto the push gateway.
type RealtimeHandler struct {
	hub    *realtime.Hub
	events realtime.EventHandler
	users  *services.UserService
	secret string
	log    *zap.Logger
}

// NewRealtimeHandler constructs a realtime handler gated by the handshake
// secret.
func NewRealtimeHandler(hub *realtime.Hub, events realtime.EventHandler, users *services.UserService, secret string) (*RealtimeHandler, error) {
	if hub == nil {
		return nil, errors.New("handlers: hub is required")
	}
	if events == nil {
		return nil, errors.New("handlers: event handler is required")
	}
	if users == nil {
		return nil, errors.New("handlers: user service is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("handlers: handshake secret is required")
	}
	return &RealtimeHandler{
		hub:    hub,
		events: events,
		users:  users,
		secret: secret,
		log:    logger.WithModule("handlers.realtime"),
	}, nil
}

// Connect verifies the handshake token, stamps the user's last_seen, and
// hands the connection to the hub. Connect never fails for a valid user:
// missing inbox rows or preference rows degrade to empty payloads downstream.
func (h *RealtimeHandler) Connect(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	userHash := strings.TrimSpace(c.Query("userHash"))
	if userID == "" || userHash == "" {
		response.Error(c, apperrors.NewBadRequest("user_id and userHash are required"))
		return
	}

	if !auth.VerifyUserHash(h.secret, userID, userHash) {
		response.Error(c, apperrors.ErrUnauthorized)
		return
	}

	exists, err := h.users.Exists(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !exists {
		response.Error(c, apperrors.ErrUserNotFound)
		return
	}

	if err := h.users.TouchLastSeen(c.Request.Context(), userID); err != nil {
		h.log.Warn("touch last_seen failed", zap.String("user_id", userID), zap.Error(err))
	}

	h.hub.Serve(userID, h.events, c.Writer, c.Request)
}
