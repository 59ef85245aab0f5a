package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/telegraphhq/telegraph/internal/queue"
	"github.com/telegraphhq/telegraph/internal/services"
	"github.com/telegraphhq/telegraph/pkg/logger"
)

const (
	defaultLogSpec   = "@daily"
	defaultDLQSpec   = "@daily"
	defaultDLQMaxAge = 14 * 24 * time.Hour
)

// Cleaner coordinates background maintenance: expiring delivery log entries
// past their retention window and purging stale dead-letter backlog.
type Cleaner struct {
	logs *services.LogService
	dlq  *queue.Queue
	cron *cron.Cron
	now  func() time.Time
	log  *zap.Logger

	logSchedule string
	dlqSchedule string
	dlqMaxAge   time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithLogSchedule overrides the cron schedule for log expiry.
func WithLogSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.logSchedule = spec
		}
	}
}

// WithDLQSchedule overrides the cron schedule for dead-letter purging.
func WithDLQSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.dlqSchedule = spec
		}
	}
}

// WithDLQMaxAge adjusts how long dead-letter messages are kept for inspection.
func WithDLQMaxAge(age time.Duration) Option {
	return func(cleaner *Cleaner) {
		if age > 0 {
			cleaner.dlqMaxAge = age
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. A nil dependency
// results in the corresponding job being skipped.
func NewCleaner(logs *services.LogService, dlq *queue.Queue, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		logs:        logs,
		dlq:         dlq,
		now:         time.Now,
		log:         logger.WithModule("maintenance"),
		logSchedule: defaultLogSpec,
		dlqSchedule: defaultDLQSpec,
		dlqMaxAge:   defaultDLQMaxAge,
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup jobs and launches the scheduler.
func (c *Cleaner) Start() error {
	if c.logs != nil {
		if _, err := c.cron.AddFunc(c.logSchedule, func() {
			c.RunLogExpiry(context.Background())
		}); err != nil {
			return err
		}
	}

	if c.dlq != nil {
		if _, err := c.cron.AddFunc(c.dlqSchedule, func() {
			c.RunDLQPurge(context.Background())
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (c *Cleaner) Stop() {
	ctx := c.cron.Stop()
	<-ctx.Done()
}

// RunLogExpiry removes delivery log entries past their retention window.
func (c *Cleaner) RunLogExpiry(ctx context.Context) {
	removed, err := c.logs.PruneExpired(ctx, c.now())
	if err != nil {
		c.log.Warn("log expiry failed", zap.Error(err))
		return
	}
	if removed > 0 {
		c.log.Info("expired delivery logs pruned", zap.Int64("removed", removed))
	}
}

// RunDLQPurge removes dead-letter messages older than the inspection window.
func (c *Cleaner) RunDLQPurge(ctx context.Context) {
	removed, err := c.dlq.PurgeOlderThan(ctx, c.now().Add(-c.dlqMaxAge))
	if err != nil {
		c.log.Warn("dead-letter purge failed", zap.Error(err))
		return
	}
	if removed > 0 {
		c.log.Info("stale dead-letter messages purged", zap.Int64("removed", removed))
	}
}
