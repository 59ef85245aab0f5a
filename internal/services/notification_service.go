package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

// CreateActiveInput defines the attributes of a new inbox row.
type CreateActiveInput struct {
	NotificationID string
	UserID         string
	Message        string
	// CreatedAt is the canonical notification timestamp from the delivery
	// log entry, not wall clock at insert.
	CreatedAt time.Time
}

// NotificationService owns the active-notification inbox lifecycle:
// creation, delivery flagging, acknowledgement, and deletion.
type NotificationService struct {
	db *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) (*NotificationService, error) {
	if db == nil {
		return nil, errors.New("notification service: db is required")
	}
	return &NotificationService{db: db}, nil
}

// Create inserts an inbox row as unread/undelivered. The upsert on the
// (user_id, created_at) key makes redelivered queue messages collide with
// the original row; retried payloads are identical so last-write-wins is
// harmless.
func (s *NotificationService) Create(ctx context.Context, input CreateActiveInput) (*models.ActiveNotification, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(input.UserID) == "" {
		return nil, errors.New("notification service: user id is required")
	}
	if input.CreatedAt.IsZero() {
		input.CreatedAt = time.Now().UTC()
	}

	row := models.ActiveNotification{
		UserID:         input.UserID,
		CreatedAt:      input.CreatedAt,
		NotificationID: input.NotificationID,
		Message:        input.Message,
		Status:         models.StatusUnread,
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "created_at"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: create active notification: %w", err)
	}
	return &row, nil
}

// ListForUser returns the user's inbox newest-first.
func (s *NotificationService) ListForUser(ctx context.Context, userID string) ([]models.ActiveNotification, error) {
	ctx = ensureContext(ctx)

	var rows []models.ActiveNotification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: list active notifications: %w", err)
	}
	return rows, nil
}

// FindByNotificationID resolves a row through the secondary index.
func (s *NotificationService) FindByNotificationID(ctx context.Context, notificationID string) (*models.ActiveNotification, error) {
	ctx = ensureContext(ctx)

	var row models.ActiveNotification
	err := s.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Order("created_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("notification service: find notification: %w", err)
	}
	return &row, nil
}

// MarkDelivered flags a row as pushed to a live connection. The delivered
// flag is independent of read acknowledgement.
func (s *NotificationService) MarkDelivered(ctx context.Context, userID string, createdAt time.Time) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).
		Model(&models.ActiveNotification{}).
		Where("user_id = ? AND created_at = ?", userID, createdAt).
		Update("delivered", true).Error
	if err != nil {
		return fmt.Errorf("notification service: mark delivered: %w", err)
	}
	return nil
}

// MarkRead transitions a row to read by acknowledgement. Lookup is by
// notification id; the mutation targets the primary key.
func (s *NotificationService) MarkRead(ctx context.Context, notificationID string) (*models.ActiveNotification, error) {
	ctx = ensureContext(ctx)

	row, err := s.FindByNotificationID(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Model(&models.ActiveNotification{}).
		Where("user_id = ? AND created_at = ?", row.UserID, row.CreatedAt).
		Update("status", models.StatusRead).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: mark read: %w", err)
	}

	row.Status = models.StatusRead
	return row, nil
}

// Delete removes a row by acknowledgement.
func (s *NotificationService) Delete(ctx context.Context, notificationID string) (*models.ActiveNotification, error) {
	ctx = ensureContext(ctx)

	row, err := s.FindByNotificationID(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).
		Where("user_id = ? AND created_at = ?", row.UserID, row.CreatedAt).
		Delete(&models.ActiveNotification{}).Error
	if err != nil {
		return nil, fmt.Errorf("notification service: delete notification: %w", err)
	}
	return row, nil
}
