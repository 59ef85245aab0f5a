package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

// CreateUserInput defines attributes required to register a user.
type CreateUserInput struct {
	ID    string
	Name  string
	Email string
}

// UpdateUserInput defines mutable user attributes.
type UpdateUserInput struct {
	Name  *string
	Email *string
}

// UserService manages user attribute rows and their preference provisioning.
type UserService struct {
	db *gorm.DB
}

// NewUserService constructs a UserService.
func NewUserService(db *gorm.DB) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db}, nil
}

// Create registers a user and provisions the default preference row in one
// transaction. Duplicate ids are rejected.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, apperrors.NewBadRequest("user id is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("user name is required")
	}

	user := models.User{
		ID:    id,
		Name:  name,
		Email: strings.TrimSpace(input.Email),
	}
	preference := models.DefaultPreference(id)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueConstraintError(err) {
				return apperrors.ErrDuplicateUser
			}
			return fmt.Errorf("user service: create user: %w", err)
		}
		if err := tx.Create(&preference).Error; err != nil {
			return fmt.Errorf("user service: provision preference: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &user, nil
}

// Get returns a single user by id.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrUserNotFound
		}
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

// Exists reports whether a user row is present without loading it.
func (s *UserService) Exists(ctx context.Context, id string) (bool, error) {
	ctx = ensureContext(ctx)

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("user service: check user: %w", err)
	}
	return count > 0, nil
}

// List returns all users ordered by creation time.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	ctx = ensureContext(ctx)

	var users []models.User
	if err := s.db.WithContext(ctx).Order("created_at").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("user service: list users: %w", err)
	}
	return users, nil
}

// Update mutates user attributes. Nil fields are left untouched.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("user name cannot be empty")
		}
		updates["name"] = name
	}
	if input.Email != nil {
		updates["email"] = strings.TrimSpace(*input.Email)
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("user service: update user: %w", err)
	}
	return user, nil
}

// Delete removes the user and their preference row.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.User{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("user service: delete user: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrUserNotFound
		}
		if err := tx.Delete(&models.UserPreference{}, "user_id = ?", id).Error; err != nil {
			return fmt.Errorf("user service: delete preference: %w", err)
		}
		return nil
	})
}

// TouchLastSeen stamps the user's last_seen attribute. Used by the presence
// gateway on connect; failures are reported but not fatal to the caller.
func (s *UserService) TouchLastSeen(ctx context.Context, id string) error {
	return s.touch(ctx, id, "last_seen")
}

// TouchLastNotified stamps the user's last_notified attribute after a
// successful channel delivery.
func (s *UserService) TouchLastNotified(ctx context.Context, id string) error {
	return s.touch(ctx, id, "last_notified")
}

func (s *UserService) touch(ctx context.Context, id, column string) error {
	ctx = ensureContext(ctx)

	err := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", id).
		Update(column, time.Now().UTC()).Error
	if err != nil {
		return fmt.Errorf("user service: touch %s: %w", column, err)
	}
	return nil
}
