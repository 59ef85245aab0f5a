package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/queue"
	"github.com/telegraphhq/telegraph/internal/services"
)

type fakeAdapter struct {
	mu        sync.Mutex
	delivered []models.NotificationRequest
	err       error
}

func (f *fakeAdapter) Deliver(_ context.Context, request *models.NotificationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, *request)
	return nil
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type routerFixture struct {
	db      *gorm.DB
	queue   *queue.Queue
	logs    *services.LogService
	prefs   *services.PreferenceService
	adapter *fakeAdapter
	router  *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	q, err := queue.New(db, queue.Options{
		Name:              "requests",
		DeadLetter:        "requests-dlq",
		VisibilityTimeout: time.Hour,
	})
	require.NoError(t, err)

	logs, err := services.NewLogService(db)
	require.NoError(t, err)
	prefs, err := services.NewPreferenceService(db)
	require.NoError(t, err)

	adapter := &fakeAdapter{}
	router, err := NewRouter(q, logs, prefs, map[string]Adapter{
		models.ChannelInApp: adapter,
	})
	require.NoError(t, err)
	router.waitTime = 0

	return &routerFixture{db: db, queue: q, logs: logs, prefs: prefs, adapter: adapter, router: router}
}

func (f *routerFixture) enablePrefs(t *testing.T, userID string) {
	t.Helper()
	require.NoError(t, f.prefs.Put(context.Background(), models.UserPreference{
		UserID: userID, InApp: true, Email: true, Chat: true,
	}))
}

func freshRequest(userID string) *models.NotificationRequest {
	return &models.NotificationRequest{
		NotificationID: "n-1",
		UserID:         userID,
		Channel:        models.ChannelInApp,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Body:           models.ChannelBody{Message: "hello"},
	}
}

func TestRouterDeliversAndAcks(t *testing.T) {
	f := newRouterFixture(t)
	f.enablePrefs(t, "u-1")
	ctx := context.Background()

	require.NoError(t, f.queue.EnqueueJSON(ctx, freshRequest("u-1")))
	require.NoError(t, f.router.RunOnce(ctx))

	require.Equal(t, 1, f.adapter.count())

	entries, err := f.logs.ListForNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusRequestReceived, entries[0].Status)
	require.True(t, entries[0].CreatedAt.Equal(freshRequest("u-1").CreatedAt))

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestRouterAcceptsLegacyEnvelope(t *testing.T) {
	f := newRouterFixture(t)
	f.enablePrefs(t, "u-1")
	ctx := context.Background()

	wire, err := WrapLegacy(freshRequest("u-1"))
	require.NoError(t, err)
	require.NoError(t, f.queue.Enqueue(ctx, wire))

	require.NoError(t, f.router.RunOnce(ctx))
	require.Equal(t, 1, f.adapter.count())
}

func TestRouterHonoursPreferenceGate(t *testing.T) {
	f := newRouterFixture(t)
	// No preference row at all: the zero-value preference disables everything.
	ctx := context.Background()

	require.NoError(t, f.queue.EnqueueJSON(ctx, freshRequest("u-1")))
	require.NoError(t, f.router.RunOnce(ctx))

	require.Zero(t, f.adapter.count())

	entries, err := f.logs.ListForNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, models.StatusRequestReceived, entries[0].Status)
	require.Equal(t, models.StatusChannelDisabled, entries[1].Status)

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	require.Zero(t, depth)
}

func TestRouterRecordsMilestones(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()

	require.NoError(t, f.queue.EnqueueJSON(ctx, &models.NotificationRequest{
		NotificationID: "n-1",
		UserID:         "u-1",
		Channel:        models.ChannelInApp,
		Status:         models.StatusInAppSent,
		Body:           models.ChannelBody{Message: "hello"},
	}))
	require.NoError(t, f.router.RunOnce(ctx))

	require.Zero(t, f.adapter.count())

	entries, err := f.logs.ListForNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusInAppSent, entries[0].Status)
}

func TestRouterPartialBatchFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.enablePrefs(t, "u-1")
	f.enablePrefs(t, "u-2")
	ctx := context.Background()

	good := freshRequest("u-1")
	bad := freshRequest("u-2")
	bad.NotificationID = "n-2"
	bad.Channel = "fax" // no adapter registered

	require.NoError(t, f.queue.EnqueueJSON(ctx, good))
	require.NoError(t, f.queue.EnqueueJSON(ctx, bad))

	require.NoError(t, f.router.RunOnce(ctx))

	// The good message is acked; the bad one is released for redelivery.
	require.Equal(t, 1, f.adapter.count())

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)

	msgs, err := f.queue.ReceiveBatch(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	parsed, err := ParseRequest(msgs[0].Body)
	require.NoError(t, err)
	require.Equal(t, "n-2", parsed.NotificationID)
}

func TestRouterReleasesOnAdapterError(t *testing.T) {
	f := newRouterFixture(t)
	f.enablePrefs(t, "u-1")
	f.adapter.err = errors.New("store offline")
	ctx := context.Background()

	require.NoError(t, f.queue.EnqueueJSON(ctx, freshRequest("u-1")))
	require.NoError(t, f.router.RunOnce(ctx))

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, depth)

	// The request is redeliverable once the fault clears.
	f.adapter.mu.Lock()
	f.adapter.err = nil
	f.adapter.mu.Unlock()

	require.NoError(t, f.router.RunOnce(ctx))
	require.Equal(t, 1, f.adapter.count())
}
