package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/dispatch"
	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/realtime"
	"github.com/telegraphhq/telegraph/internal/services"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

type recordingQueue struct {
	mu     sync.Mutex
	bodies [][]byte
}

func (r *recordingQueue) Enqueue(_ context.Context, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bodies = append(r.bodies, body)
	return nil
}

func (r *recordingQueue) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.bodies))
	copy(out, r.bodies)
	return out
}

func (r *recordingQueue) statuses(t *testing.T) []string {
	t.Helper()
	bodies := r.snapshot()
	out := make([]string, 0, len(bodies))
	for _, body := range bodies {
		request, err := dispatch.ParseRequest(body)
		require.NoError(t, err)
		out = append(out, request.Status)
	}
	return out
}

type presenceFixture struct {
	db      *gorm.DB
	hub     *realtime.Hub
	service *Service
	notifs  *services.NotificationService
	prefs   *services.PreferenceService
	queue   *recordingQueue
}

func newPresenceFixture(t *testing.T) *presenceFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	notifs, err := services.NewNotificationService(db)
	require.NoError(t, err)
	prefs, err := services.NewPreferenceService(db)
	require.NoError(t, err)

	q := &recordingQueue{}
	hub := realtime.NewHub(db)
	service, err := New(hub, notifs, prefs, q)
	require.NoError(t, err)

	return &presenceFixture{db: db, hub: hub, service: service, notifs: notifs, prefs: prefs, queue: q}
}

// dialPresence connects a real websocket client served by the fixture's hub
// with the presence service handling events.
func dialPresence(t *testing.T, f *presenceFixture, userID string) *websocket.Conn {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hub.Serve(userID, f.service, w, r)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

type pushFrame struct {
	Topic          string                      `json:"topic"`
	Notifications  []models.ActiveNotification `json:"notifications"`
	Preference     *models.UserPreference      `json:"preference"`
	Status         string                      `json:"status"`
	NotificationID string                      `json:"notification_id"`
	Error          string                      `json:"error"`
}

func readFrame(t *testing.T, conn *websocket.Conn) pushFrame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame pushFrame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestBroadcastWithoutConnectionLeavesUndelivered(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	row, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		Message:        "hello",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	require.NoError(t, f.service.Broadcast(ctx, *row))

	rows, err := f.notifs.ListForUser(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, rows[0].Delivered)

	// The milestone record says the notification waits for the next connect.
	require.Equal(t, []string{models.StatusQueued}, f.queue.statuses(t))

	// Milestones keep the legacy wire shape.
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(f.queue.snapshot()[0], &envelope))
	require.Contains(t, envelope, "requestContext")
}

func TestConnectReplaysUndeliveredInbox(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	_, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		Message:        "stored while offline",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	conn := dialPresence(t, f, "u-1")

	// The initial sync carries the full inbox, undelivered rows included.
	frame := readFrame(t, conn)
	require.Equal(t, realtime.TopicInitialData, frame.Topic)
	require.Len(t, frame.Notifications, 1)
	require.Equal(t, "n-1", frame.Notifications[0].NotificationID)

	// After the push lands, the row transitions to delivered with one sent
	// milestone.
	require.Eventually(t, func() bool {
		rows, err := f.notifs.ListForUser(ctx, "u-1")
		return err == nil && len(rows) == 1 && rows[0].Delivered
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(f.queue.snapshot()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, []string{models.StatusInAppSent}, f.queue.statuses(t))
}

func TestHandleActionMarkRead(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	_, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.service.HandleAction(ctx, "u-1", realtime.ClientMessage{
		Action: "updateNotification",
		Body:   json.RawMessage(`{"notification_id":"n-1","status":"read"}`),
	})

	row, err := f.notifs.FindByNotificationID(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusRead, row.Status)

	// The acknowledgement is recorded through the queue, bare wire shape.
	require.Equal(t, []string{models.StatusRead}, f.queue.statuses(t))
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(f.queue.snapshot()[0], &envelope))
	require.NotContains(t, envelope, "requestContext")
}

func TestHandleActionDelete(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	_, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.service.HandleAction(ctx, "u-1", realtime.ClientMessage{
		Action: "updateNotification",
		Body:   json.RawMessage(`{"notification_id":"n-1","status":"delete"}`),
	})

	_, err = f.notifs.FindByNotificationID(ctx, "n-1")
	require.Error(t, err)

	require.Equal(t, []string{models.StatusDelete}, f.queue.statuses(t))
}

func TestHandleActionInvalidStatusLeavesRowUntouched(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	_, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	f.service.HandleAction(ctx, "u-1", realtime.ClientMessage{
		Action: "updateNotification",
		Body:   json.RawMessage(`{"notification_id":"n-1","status":"archived"}`),
	})

	row, err := f.notifs.FindByNotificationID(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusUnread, row.Status)

	// The rejected attempt is still recorded.
	require.Equal(t, []string{"archived"}, f.queue.statuses(t))
}

func TestInvalidAcknowledgementIsPushedBack(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	_, err := f.notifs.Create(ctx, services.CreateActiveInput{
		NotificationID: "n-1",
		UserID:         "u-1",
		Message:        "hello",
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	conn := dialPresence(t, f, "u-1")
	require.Equal(t, realtime.TopicInitialData, readFrame(t, conn).Topic)

	payload := `{"action":"updateNotification","body":{"notification_id":"n-1","status":"archived"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))

	frame := readFrame(t, conn)
	require.Equal(t, realtime.TopicError, frame.Topic)
	require.Equal(t, "archived", frame.Status)
	require.Equal(t, "n-1", frame.NotificationID)
	require.Equal(t, apperrors.ErrInvalidStatus.Message, frame.Error)

	row, err := f.notifs.FindByNotificationID(ctx, "n-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusUnread, row.Status)
}

func TestHandleActionUpdatePreference(t *testing.T) {
	f := newPresenceFixture(t)
	ctx := context.Background()

	f.service.HandleAction(ctx, "u-1", realtime.ClientMessage{
		Action: "updatePreference",
		Body:   json.RawMessage(`{"in_app":true,"email":false,"chat":true}`),
	})

	pref, err := f.prefs.Get(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, pref.InApp)
	require.False(t, pref.Email)
	require.True(t, pref.Chat)
}

func TestHandleActionUnknownActionIsIgnored(t *testing.T) {
	f := newPresenceFixture(t)

	f.service.HandleAction(context.Background(), "u-1", realtime.ClientMessage{
		Action: "selfDestruct",
	})
	require.Empty(t, f.queue.snapshot())
}
