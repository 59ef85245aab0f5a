package database

import (
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.UserPreference{},
		&models.ActiveNotification{},
		&models.DeliveryLog{},
		&models.Connection{},
		&models.QueueMessage{},
	)
}
