package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/queue"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/logger"
	"github.com/telegraphhq/telegraph/pkg/metrics"
)

// Router batch tuning.
const (
	defaultBatchSize = 10
	defaultWaitTime  = 5 * time.Second
)

// Router consumes the retry queue and routes each message either to a channel
// adapter (fresh requests) or straight to the audit log (milestone records).
// Failures are handled per message: a failed item is released for redelivery
// while the rest of the batch is acknowledged.
type Router struct {
	queue    *queue.Queue
	logs     *services.LogService
	prefs    *services.PreferenceService
	adapters map[string]Adapter
	log      *zap.Logger

	batchSize int
	waitTime  time.Duration
}

// NewRouter constructs a Router over the retry queue.
func NewRouter(q *queue.Queue, logs *services.LogService, prefs *services.PreferenceService, adapters map[string]Adapter) (*Router, error) {
	if q == nil {
		return nil, errors.New("dispatch: queue is required")
	}
	if logs == nil {
		return nil, errors.New("dispatch: log service is required")
	}
	if prefs == nil {
		return nil, errors.New("dispatch: preference service is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("dispatch: at least one adapter is required")
	}
	return &Router{
		queue:     q,
		logs:      logs,
		prefs:     prefs,
		adapters:  adapters,
		log:       logger.WithModule("dispatch"),
		batchSize: defaultBatchSize,
		waitTime:  defaultWaitTime,
	}, nil
}

// Run consumes batches until ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	r.log.Info("router started", zap.String("queue", r.queue.Name()))
	for {
		if err := ctx.Err(); err != nil {
			r.log.Info("router stopped")
			return err
		}

		if err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Error("receive batch failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// RunOnce receives and processes a single batch. Each message is processed in
// its own goroutine; the call returns once the whole batch has been settled.
func (r *Router) RunOnce(ctx context.Context) error {
	batch, err := r.queue.ReceiveBatch(ctx, r.batchSize, r.waitTime)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, msg := range batch {
		wg.Add(1)
		go func(msg queue.Message) {
			defer wg.Done()
			r.settle(ctx, msg)
		}(msg)
	}
	wg.Wait()
	return nil
}

// settle processes one message and acknowledges or releases it. Release puts
// the message back for immediate redelivery; the queue's receive budget
// dead-letters it once retries are exhausted.
func (r *Router) settle(ctx context.Context, msg queue.Message) {
	if err := r.process(ctx, msg.Body); err != nil {
		r.log.Warn("message failed",
			zap.Uint("message_id", msg.ID),
			zap.Int("receive_count", msg.ReceiveCount),
			zap.Error(err),
		)
		if err := r.queue.Release(ctx, msg.ID); err != nil {
			r.log.Error("release failed", zap.Uint("message_id", msg.ID), zap.Error(err))
		}
		return
	}

	if err := r.queue.Delete(ctx, msg.ID); err != nil {
		r.log.Error("ack failed", zap.Uint("message_id", msg.ID), zap.Error(err))
	}
}

func (r *Router) process(ctx context.Context, body []byte) error {
	request, err := ParseRequest(body)
	if err != nil {
		return err
	}

	// Milestone records carry a status; they only append to the audit log.
	if request.Status != "" {
		return r.recordMilestone(ctx, request)
	}

	_, err = r.logs.Append(ctx, services.LogEntryInput{
		NotificationID: request.NotificationID,
		UserID:         request.UserID,
		Channel:        request.Channel,
		Status:         models.StatusRequestReceived,
		Message:        request.Body.Message,
		ReceiverEmail:  request.Body.ReceiverEmail,
		Subject:        request.Body.Subject,
		CreatedAt:      request.CreatedAt,
	})
	if err != nil {
		return err
	}

	enabled, err := r.prefs.ChannelEnabled(ctx, request.UserID, request.Channel)
	if err != nil {
		return err
	}
	if !enabled {
		metrics.Deliveries.WithLabelValues(request.Channel, "disabled").Inc()
		_, err := r.logs.Append(ctx, services.LogEntryInput{
			NotificationID: request.NotificationID,
			UserID:         request.UserID,
			Channel:        request.Channel,
			Status:         models.StatusChannelDisabled,
		})
		return err
	}

	adapter, ok := r.adapters[request.Channel]
	if !ok {
		return fmt.Errorf("dispatch: no adapter for channel %s", request.Channel)
	}
	return adapter.Deliver(ctx, request)
}

func (r *Router) recordMilestone(ctx context.Context, request *models.NotificationRequest) error {
	_, err := r.logs.Append(ctx, services.LogEntryInput{
		NotificationID: request.NotificationID,
		UserID:         request.UserID,
		Channel:        request.Channel,
		Status:         request.Status,
		Message:        request.Body.Message,
	})
	if err != nil {
		return err
	}

	switch request.Status {
	case models.StatusInAppSent:
		metrics.Deliveries.WithLabelValues(request.Channel, "sent").Inc()
	case models.StatusQueued:
		metrics.Deliveries.WithLabelValues(request.Channel, "queued").Inc()
	}
	return nil
}
