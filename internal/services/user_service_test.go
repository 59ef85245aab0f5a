package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

func TestUserServiceCreateProvisionsPreference(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	ctx := context.Background()
	user, err := svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)
	require.Equal(t, "u-1", user.ID)

	var pref models.UserPreference
	require.NoError(t, db.First(&pref, "user_id = ?", "u-1").Error)
	require.True(t, pref.InApp)
	require.True(t, pref.Email)
	require.True(t, pref.Chat)
}

func TestUserServiceCreateRejectsDuplicateID(t *testing.T) {
	svc, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Alice"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Imposter"})
	require.ErrorIs(t, err, apperrors.ErrDuplicateUser)
}

func TestUserServiceGetMissingUser(t *testing.T) {
	svc, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestUserServiceUpdateSkipsNilFields(t *testing.T) {
	svc, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	newName := "Alice B"
	updated, err := svc.Update(ctx, "u-1", UpdateUserInput{Name: &newName})
	require.NoError(t, err)
	require.Equal(t, "Alice B", updated.Name)
	require.Equal(t, "alice@example.com", updated.Email)
}

func TestUserServiceDeleteRemovesPreference(t *testing.T) {
	db := testutil.MustOpenTestDB(t)
	svc, err := NewUserService(db)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Alice"})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "u-1"))

	var count int64
	require.NoError(t, db.Model(&models.UserPreference{}).Where("user_id = ?", "u-1").Count(&count).Error)
	require.Zero(t, count)

	require.ErrorIs(t, svc.Delete(ctx, "u-1"), apperrors.ErrUserNotFound)
}

func TestUserServiceTouchStampsAttributes(t *testing.T) {
	svc, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateUserInput{ID: "u-1", Name: "Alice"})
	require.NoError(t, err)

	require.NoError(t, svc.TouchLastSeen(ctx, "u-1"))
	require.NoError(t, svc.TouchLastNotified(ctx, "u-1"))

	user, err := svc.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, user.LastSeen)
	require.NotNil(t, user.LastNotified)
}
