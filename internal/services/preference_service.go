package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telegraphhq/telegraph/internal/models"
)

// PreferenceService reads and writes per-user channel opt-in flags.
type PreferenceService struct {
	db *gorm.DB
}

// NewPreferenceService constructs a PreferenceService.
func NewPreferenceService(db *gorm.DB) (*PreferenceService, error) {
	if db == nil {
		return nil, errors.New("preference service: db is required")
	}
	return &PreferenceService{db: db}, nil
}

// Get returns the preference row for a user. A missing row degrades to a
// zero-value preference (all channels off) rather than an error, so callers
// on the dispatch hot path never fail on absent rows.
func (s *PreferenceService) Get(ctx context.Context, userID string) (models.UserPreference, error) {
	ctx = ensureContext(ctx)

	var pref models.UserPreference
	err := s.db.WithContext(ctx).First(&pref, "user_id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.UserPreference{UserID: userID}, nil
		}
		return models.UserPreference{}, fmt.Errorf("preference service: load preference: %w", err)
	}
	return pref, nil
}

// ChannelEnabled reports whether the user has the named channel opted in.
func (s *PreferenceService) ChannelEnabled(ctx context.Context, userID, channel string) (bool, error) {
	pref, err := s.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	return pref.ChannelEnabled(channel), nil
}

// Put upserts the full preference row for a user.
func (s *PreferenceService) Put(ctx context.Context, pref models.UserPreference) error {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(pref.UserID) == "" {
		return errors.New("preference service: user id is required")
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			UpdateAll: true,
		}).
		Create(&pref).Error
	if err != nil {
		return fmt.Errorf("preference service: save preference: %w", err)
	}
	return nil
}
