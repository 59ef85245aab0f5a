package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

func TestNotificationServiceCreateIsIdempotent(t *testing.T) {
	svc, err := NewNotificationService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	canonical := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	input := CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		Message:        "hello",
		CreatedAt:      canonical,
	}

	_, err = svc.Create(ctx, input)
	require.NoError(t, err)

	// A redelivered queue message carries the same canonical timestamp and
	// collides with the original row.
	_, err = svc.Create(ctx, input)
	require.NoError(t, err)

	rows, err := svc.ListForUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, models.StatusUnread, rows[0].Status)
	require.False(t, rows[0].Delivered)
}

func TestNotificationServiceListNewestFirst(t *testing.T) {
	svc, err := NewNotificationService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateActiveInput{
			NotificationID: "n-" + string(rune('a'+i)),
			UserID:         "u-1",
			Message:        "msg",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rows, err := svc.ListForUser(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "n-c", rows[0].NotificationID)
	require.Equal(t, "n-a", rows[2].NotificationID)
}

func TestNotificationServiceMarkDelivered(t *testing.T) {
	svc, err := NewNotificationService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	canonical := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = svc.Create(ctx, CreateActiveInput{NotificationID: "n-1", UserID: "u-1", CreatedAt: canonical})
	require.NoError(t, err)

	require.NoError(t, svc.MarkDelivered(ctx, "u-1", canonical))

	rows, err := svc.ListForUser(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, rows[0].Delivered)
}

func TestNotificationServiceMarkReadAndDelete(t *testing.T) {
	svc, err := NewNotificationService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.Create(ctx, CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	row, err := svc.MarkRead(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, row.Status)

	deleted, err := svc.Delete(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, "n-1", deleted.NotificationID)

	_, err = svc.FindByNotificationID(ctx, "n-1")
	require.ErrorIs(t, err, apperrors.ErrNotificationNotFound)
}

func TestNotificationServiceUnknownIDErrors(t *testing.T) {
	svc, err := NewNotificationService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)

	_, err = svc.MarkRead(context.Background(), "ghost")
	require.ErrorIs(t, err, apperrors.ErrNotificationNotFound)

	_, err = svc.Delete(context.Background(), "ghost")
	require.ErrorIs(t, err, apperrors.ErrNotificationNotFound)
}
