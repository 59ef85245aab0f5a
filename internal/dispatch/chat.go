package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/logger"
	"github.com/telegraphhq/telegraph/pkg/metrics"
)

// ChatAdapter posts notifications to a chat webhook. Like email, send
// failures are terminal and recorded in the audit log.
type ChatAdapter struct {
	webhookURL string
	client     *http.Client
	logs       *services.LogService
	users      *services.UserService
	log        *zap.Logger
}

// NewChatAdapter constructs a ChatAdapter posting to webhookURL. A nil client
// falls back to a default with a 10s timeout.
func NewChatAdapter(webhookURL string, client *http.Client, logs *services.LogService, users *services.UserService) (*ChatAdapter, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, errors.New("dispatch: chat webhook url is required")
	}
	if logs == nil {
		return nil, errors.New("dispatch: log service is required")
	}
	if users == nil {
		return nil, errors.New("dispatch: user service is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &ChatAdapter{
		webhookURL: webhookURL,
		client:     client,
		logs:       logs,
		users:      users,
		log:        logger.WithModule("dispatch.chat"),
	}, nil
}

// Deliver posts the message to the webhook and appends the terminal
// milestone for the attempt.
func (a *ChatAdapter) Deliver(ctx context.Context, request *models.NotificationRequest) error {
	sendErr := a.post(ctx, request.Body.Message)

	status := models.StatusChatSent
	result := "sent"
	if sendErr != nil {
		status = models.StatusChatFailed
		result = "failed"
		a.log.Warn("chat send failed",
			zap.String("user_id", request.UserID),
			zap.String("notification_id", request.NotificationID),
			zap.Error(sendErr),
		)
	}

	_, err := a.logs.Append(ctx, services.LogEntryInput{
		NotificationID: request.NotificationID,
		UserID:         request.UserID,
		Channel:        request.Channel,
		Status:         status,
		Message:        request.Body.Message,
	})
	if err != nil {
		return err
	}
	metrics.Deliveries.WithLabelValues(request.Channel, result).Inc()

	if sendErr == nil {
		if err := a.users.TouchLastNotified(ctx, request.UserID); err != nil {
			a.log.Warn("touch last_notified failed",
				zap.String("user_id", request.UserID),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (a *ChatAdapter) post(ctx context.Context, message string) error {
	payload, err := json.Marshal(map[string]string{"text": message})
	if err != nil {
		return fmt.Errorf("dispatch: encode chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("dispatch: build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch: post chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("dispatch: chat webhook returned %d", resp.StatusCode)
	}
	return nil
}
