package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/models"
)

// LogEntryInput captures one delivery milestone to append to the audit log.
type LogEntryInput struct {
	NotificationID string
	UserID         string
	Channel        string
	Status         string
	Message        string
	ReceiverEmail  string
	Subject        string
	// CreatedAt is the canonical notification timestamp when known; zero
	// means "stamp now".
	CreatedAt time.Time
}

// LogService appends to and queries the delivery audit log. Entries are
// immutable once written; expiry happens via the maintenance pruner, never
// update-in-place.
type LogService struct {
	db *gorm.DB
}

// NewLogService constructs a LogService.
func NewLogService(db *gorm.DB) (*LogService, error) {
	if db == nil {
		return nil, errors.New("log service: db is required")
	}
	return &LogService{db: db}, nil
}

// Append persists one delivery log entry and returns it.
func (s *LogService) Append(ctx context.Context, input LogEntryInput) (*models.DeliveryLog, error) {
	ctx = ensureContext(ctx)

	if input.Status == "" {
		return nil, errors.New("log service: status is required")
	}

	entry := models.DeliveryLog{
		NotificationID: input.NotificationID,
		UserID:         input.UserID,
		Channel:        input.Channel,
		Status:         input.Status,
		Message:        input.Message,
		ReceiverEmail:  input.ReceiverEmail,
		Subject:        input.Subject,
		CreatedAt:      input.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("log service: append entry: %w", err)
	}
	return &entry, nil
}

// List returns the full audit trail, newest first.
func (s *LogService) List(ctx context.Context) ([]models.DeliveryLog, error) {
	ctx = ensureContext(ctx)

	var entries []models.DeliveryLog
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("log service: list entries: %w", err)
	}
	return entries, nil
}

// ListForNotification returns all entries for one notification id, oldest
// first, so a delivery can be traced milestone by milestone.
func (s *LogService) ListForNotification(ctx context.Context, notificationID string) ([]models.DeliveryLog, error) {
	ctx = ensureContext(ctx)

	var entries []models.DeliveryLog
	err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("log service: list notification entries: %w", err)
	}
	return entries, nil
}

// PruneExpired removes entries whose TTL has passed and returns how many
// were deleted.
func (s *LogService) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx = ensureContext(ctx)

	res := s.db.WithContext(ctx).
		Where("ttl <= ?", now.Unix()).
		Delete(&models.DeliveryLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("log service: prune expired: %w", res.Error)
	}
	return res.RowsAffected, nil
}
