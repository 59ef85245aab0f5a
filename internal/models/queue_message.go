package models

import (
	"time"

	"gorm.io/datatypes"
)

// QueueMessage backs the durable retry queue. A message is visible to
// consumers while visible_at <= now; receiving it advances visible_at by the
// queue's visibility timeout so concurrent consumers do not double-process
// it. Messages that exhaust their receive budget are moved to the
// dead-letter queue by rewriting the Queue column.
type QueueMessage struct {
	ID           uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	Queue        string         `gorm:"index:idx_queue_visible;not null" json:"queue"`
	Body         datatypes.JSON `json:"body"`
	VisibleAt    time.Time      `gorm:"index:idx_queue_visible" json:"visible_at"`
	ReceiveCount int            `gorm:"default:0" json:"receive_count"`
	CreatedAt    time.Time      `json:"created_at"`
}
