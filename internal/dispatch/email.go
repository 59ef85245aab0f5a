package dispatch

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/logger"
	"github.com/telegraphhq/telegraph/pkg/mail"
	"github.com/telegraphhq/telegraph/pkg/metrics"
)

// EmailAdapter delivers notifications through the SMTP relay. Send failures
// are terminal: the failure is recorded in the audit log and the queue
// message is acknowledged rather than retried against a relay that already
// rejected it.
type EmailAdapter struct {
	mailer mail.Mailer
	logs   *services.LogService
	users  *services.UserService
	log    *zap.Logger
}

// NewEmailAdapter constructs an EmailAdapter.
func NewEmailAdapter(mailer mail.Mailer, logs *services.LogService, users *services.UserService) (*EmailAdapter, error) {
	if mailer == nil {
		return nil, errors.New("dispatch: mailer is required")
	}
	if logs == nil {
		return nil, errors.New("dispatch: log service is required")
	}
	if users == nil {
		return nil, errors.New("dispatch: user service is required")
	}
	return &EmailAdapter{
		mailer: mailer,
		logs:   logs,
		users:  users,
		log:    logger.WithModule("dispatch.email"),
	}, nil
}

// Deliver sends the email and appends the terminal milestone for the attempt.
func (a *EmailAdapter) Deliver(ctx context.Context, request *models.NotificationRequest) error {
	sendErr := a.mailer.Send(ctx, mail.Message{
		To:      []string{request.Body.ReceiverEmail},
		Subject: request.Body.Subject,
		Body:    request.Body.Message,
	})

	status := models.StatusEmailSent
	result := "sent"
	if sendErr != nil {
		status = models.StatusEmailFailed
		result = "failed"
		a.log.Warn("email send failed",
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
		ReceiverEmail:  request.Body.ReceiverEmail,
		Subject:        request.Body.Subject,
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
