package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/pkg/metrics"
)

// Default queue tuning applied when options are left zero.
const (
	DefaultVisibilityTimeout = 30 * time.Second
	DefaultMaxReceive        = 3
	DefaultPollInterval      = 250 * time.Millisecond
)

// Options configures a named durable queue.
type Options struct {
	// Name identifies the queue; messages are partitioned by name.
	Name string
	// DeadLetter is the queue messages move to after exhausting MaxReceive.
	// Empty disables dead-lettering (the DLQ itself runs without one).
	DeadLetter string
	// VisibilityTimeout hides an in-flight message from other consumers.
	VisibilityTimeout time.Duration
	// MaxReceive is the receive budget before a message is dead-lettered.
	MaxReceive int
	// PollInterval is the sleep between receive passes while waiting.
	PollInterval time.Duration
}

// Message is a received queue item. The same message may be delivered more
// than once; consumers must be idempotent.
type Message struct {
	ID           uint
	Body         []byte
	ReceiveCount int
}

// Queue is a database-backed, at-least-once message queue with per-message
// visibility timeouts and dead-letter overflow.
type Queue struct {
	db   *gorm.DB
	opts Options
}

// New constructs a queue bound to the provided database handle.
func New(db *gorm.DB, opts Options) (*Queue, error) {
	if db == nil {
		return nil, errors.New("queue: db is required")
	}
	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("queue: name is required")
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = DefaultVisibilityTimeout
	}
	if opts.MaxReceive <= 0 {
		opts.MaxReceive = DefaultMaxReceive
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Queue{db: db, opts: opts}, nil
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.opts.Name
}

// Enqueue appends a raw message body to the queue.
func (q *Queue) Enqueue(ctx context.Context, body []byte) error {
	msg := models.QueueMessage{
		Queue:     q.opts.Name,
		Body:      datatypes.JSON(body),
		VisibleAt: time.Now().UTC(),
	}
	if err := q.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return fmt.Errorf("queue %s: enqueue: %w", q.opts.Name, err)
	}
	metrics.QueueMessages.WithLabelValues(q.opts.Name, "enqueue").Inc()
	return nil
}

// EnqueueJSON marshals v and appends it to the queue.
func (q *Queue) EnqueueJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue %s: marshal: %w", q.opts.Name, err)
	}
	return q.Enqueue(ctx, body)
}

// ReceiveBatch claims up to max visible messages, waiting up to wait for the
// first message to appear. Claimed messages are hidden from other consumers
// for the visibility timeout; unacknowledged messages reappear after it
// elapses. Messages over their receive budget are moved to the dead-letter
// queue instead of being returned.
func (q *Queue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 {
		max = 1
	}

	deadline := time.Now().Add(wait)
	for {
		claimed, err := q.receiveOnce(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(claimed) > 0 || wait <= 0 || time.Now().After(deadline) {
			return claimed, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.opts.PollInterval):
		}
	}
}

func (q *Queue) receiveOnce(ctx context.Context, max int) ([]Message, error) {
	now := time.Now().UTC()

	var candidates []models.QueueMessage
	err := q.db.WithContext(ctx).
		Where("queue = ? AND visible_at <= ?", q.opts.Name, now).
		Order("id").
		Limit(max).
		Find(&candidates).Error
	if err != nil {
		return nil, fmt.Errorf("queue %s: receive: %w", q.opts.Name, err)
	}

	claimed := make([]Message, 0, len(candidates))
	for _, candidate := range candidates {
		if q.opts.DeadLetter != "" && candidate.ReceiveCount >= q.opts.MaxReceive {
			if err := q.deadLetter(ctx, candidate); err != nil {
				return nil, err
			}
			continue
		}

		// Optimistic claim: visible_at doubles as a fencing token so two
		// consumers cannot claim the same message.
		res := q.db.WithContext(ctx).
			Model(&models.QueueMessage{}).
			Where("id = ? AND queue = ? AND visible_at = ?", candidate.ID, q.opts.Name, candidate.VisibleAt).
			Updates(map[string]any{
				"visible_at":    now.Add(q.opts.VisibilityTimeout),
				"receive_count": candidate.ReceiveCount + 1,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("queue %s: claim: %w", q.opts.Name, res.Error)
		}
		if res.RowsAffected == 0 {
			continue
		}

		claimed = append(claimed, Message{
			ID:           candidate.ID,
			Body:         []byte(candidate.Body),
			ReceiveCount: candidate.ReceiveCount + 1,
		})
	}

	return claimed, nil
}

func (q *Queue) deadLetter(ctx context.Context, msg models.QueueMessage) error {
	res := q.db.WithContext(ctx).
		Model(&models.QueueMessage{}).
		Where("id = ? AND queue = ? AND visible_at = ?", msg.ID, q.opts.Name, msg.VisibleAt).
		Updates(map[string]any{
			"queue":         q.opts.DeadLetter,
			"receive_count": 0,
			"visible_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("queue %s: dead-letter: %w", q.opts.Name, res.Error)
	}
	if res.RowsAffected > 0 {
		metrics.QueueMessages.WithLabelValues(q.opts.Name, "dead").Inc()
	}
	return nil
}

// Delete acknowledges a claimed message, removing it permanently.
func (q *Queue) Delete(ctx context.Context, id uint) error {
	err := q.db.WithContext(ctx).
		Where("id = ? AND queue = ?", id, q.opts.Name).
		Delete(&models.QueueMessage{}).Error
	if err != nil {
		return fmt.Errorf("queue %s: delete: %w", q.opts.Name, err)
	}
	metrics.QueueMessages.WithLabelValues(q.opts.Name, "ack").Inc()
	return nil
}

// Release makes a claimed message immediately visible again so the queue's
// retry policy redelivers it without waiting out the visibility timeout.
func (q *Queue) Release(ctx context.Context, id uint) error {
	err := q.db.WithContext(ctx).
		Model(&models.QueueMessage{}).
		Where("id = ? AND queue = ?", id, q.opts.Name).
		Update("visible_at", time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("queue %s: release: %w", q.opts.Name, err)
	}
	metrics.QueueMessages.WithLabelValues(q.opts.Name, "fail").Inc()
	return nil
}

// Drain repeatedly receives until no visible messages remain and returns the
// raw bodies. Drained messages are not deleted; they stay hidden until their
// visibility timeout expires, matching an inspect-without-consume read.
func (q *Queue) Drain(ctx context.Context) ([]json.RawMessage, error) {
	var bodies []json.RawMessage
	for {
		claimed, err := q.receiveOnce(ctx, 10)
		if err != nil {
			return nil, err
		}
		if len(claimed) == 0 {
			return bodies, nil
		}
		for _, msg := range claimed {
			bodies = append(bodies, json.RawMessage(msg.Body))
		}
	}
}

// Depth reports the number of messages currently in the queue, visible or
// not.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).
		Model(&models.QueueMessage{}).
		Where("queue = ?", q.opts.Name).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("queue %s: depth: %w", q.opts.Name, err)
	}
	return count, nil
}

// PurgeOlderThan removes messages created before the cutoff. Used by the
// maintenance pruner to expire dead-letter backlog.
func (q *Queue) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := q.db.WithContext(ctx).
		Where("queue = ? AND created_at < ?", q.opts.Name, cutoff).
		Delete(&models.QueueMessage{})
	if res.Error != nil {
		return 0, fmt.Errorf("queue %s: purge: %w", q.opts.Name, res.Error)
	}
	return res.RowsAffected, nil
}
