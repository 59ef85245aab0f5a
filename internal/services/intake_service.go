package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
	"github.com/telegraphhq/telegraph/pkg/logger"
)

// Enqueuer abstracts the retry queue producer side so intake can be tested
// with a fake.
type Enqueuer interface {
	EnqueueJSON(ctx context.Context, v any) error
}

// ChannelInput is the caller-supplied payload for one requested channel.
type ChannelInput struct {
	Message string `json:"message" validate:"required"`
	Subject string `json:"subject,omitempty"`
}

// ChannelResult reports the submission outcome for one channel. Error is
// populated when that channel's fan-out failed; other channels are
// unaffected.
type ChannelResult struct {
	Channel        string `json:"channel"`
	NotificationID string `json:"notification_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// SubmitInput is one inbound notification request before fan-out.
type SubmitInput struct {
	UserID   string
	Channels map[string]ChannelInput
}

// IntakeService validates inbound notification requests and fans them out to
// the retry queue, one message per requested channel. It never writes to any
// store; the queue consumer owns all persistence.
type IntakeService struct {
	users *UserService
	queue Enqueuer
	log   *zap.Logger
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(users *UserService, q Enqueuer) (*IntakeService, error) {
	if users == nil {
		return nil, errors.New("intake service: user service is required")
	}
	if q == nil {
		return nil, errors.New("intake service: queue is required")
	}
	return &IntakeService{
		users: users,
		queue: q,
		log:   logger.WithModule("intake"),
	}, nil
}

// Submit verifies the sender exists, then enqueues one NotificationRequest
// per requested channel. Channels are submitted concurrently and in
// isolation: one channel's failure never blocks the others, and the result
// slice always carries one entry per requested channel.
func (s *IntakeService) Submit(ctx context.Context, input SubmitInput) ([]ChannelResult, error) {
	ctx = ensureContext(ctx)

	userID := strings.TrimSpace(input.UserID)
	if userID == "" {
		return nil, apperrors.NewBadRequest("user_id is required")
	}
	if len(input.Channels) == 0 {
		return nil, apperrors.NewBadRequest("at least one channel is required")
	}

	exists, err := s.users.Exists(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, apperrors.ErrUserNotFound
	}

	results := make([]ChannelResult, 0, len(input.Channels))
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		combined error
	)

	for channel, body := range input.Channels {
		wg.Add(1)
		go func(channel string, body ChannelInput) {
			defer wg.Done()

			result := s.submitChannel(ctx, userID, channel, body)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, result)
			if result.Error != "" {
				combined = multierr.Append(combined, errors.New(channel+": "+result.Error))
			}
		}(channel, body)
	}
	wg.Wait()

	if combined != nil {
		s.log.Warn("partial intake fan-out failure",
			zap.String("user_id", userID),
			zap.Error(combined),
		)
	}

	return results, nil
}

func (s *IntakeService) submitChannel(ctx context.Context, userID, channel string, body ChannelInput) ChannelResult {
	result := ChannelResult{Channel: channel}

	request, err := s.buildRequest(ctx, userID, channel, body)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.NotificationID = request.NotificationID

	if err := s.queue.EnqueueJSON(ctx, request); err != nil {
		s.log.Error("enqueue failed",
			zap.String("user_id", userID),
			zap.String("channel", channel),
			zap.Error(err),
		)
		result.Error = "could not queue notification"
		return result
	}

	s.log.Info("notification queued",
		zap.String("user_id", userID),
		zap.String("channel", channel),
		zap.String("notification_id", request.NotificationID),
	)
	return result
}

// buildRequest resolves the channel-specific fields of one queue message.
// The created_at stamped here is the canonical notification timestamp used
// as the inbox row key downstream, so queue redeliveries stay idempotent.
func (s *IntakeService) buildRequest(ctx context.Context, userID, channel string, body ChannelInput) (*models.NotificationRequest, error) {
	if strings.TrimSpace(body.Message) == "" {
		return nil, apperrors.NewBadRequest("message is required")
	}

	request := &models.NotificationRequest{
		NotificationID: uuid.NewString(),
		UserID:         userID,
		Channel:        channel,
		CreatedAt:      time.Now().UTC(),
		Body: models.ChannelBody{
			Message: body.Message,
		},
	}

	switch channel {
	case models.ChannelInApp, models.ChannelChat:
		// Message only.
	case models.ChannelEmail:
		user, err := s.users.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(user.Email) == "" {
			return nil, apperrors.ErrMissingContactAttribute
		}
		request.Body.ReceiverEmail = user.Email
		request.Body.Subject = body.Subject
	default:
		return nil, apperrors.NewBadRequest("unknown channel " + channel)
	}

	return request, nil
}
