package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/models"
	"github.com/telegraphhq/telegraph/internal/services"
)

func chatFixture(t *testing.T, webhook *httptest.Server) (*ChatAdapter, *services.LogService, *services.UserService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t)
	logs, err := services.NewLogService(db)
	require.NoError(t, err)
	users, err := services.NewUserService(db)
	require.NoError(t, err)

	_, err = users.Create(context.Background(), services.CreateUserInput{ID: "u-1", Name: "Alice"})
	require.NoError(t, err)

	adapter, err := NewChatAdapter(webhook.URL, webhook.Client(), logs, users)
	require.NoError(t, err)

	return adapter, logs, users
}

func chatRequest() *models.NotificationRequest {
	return &models.NotificationRequest{
		NotificationID: "n-1",
		UserID:         "u-1",
		Channel:        models.ChannelChat,
		Body:           models.ChannelBody{Message: "deploy finished"},
	}
}

func TestChatAdapterPostsWebhook(t *testing.T) {
	var received map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	adapter, logs, users := chatFixture(t, server)

	ctx := context.Background()
	require.NoError(t, adapter.Deliver(ctx, chatRequest()))
	require.Equal(t, "deploy finished", received["text"])

	entries, err := logs.ListForNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusChatSent, entries[0].Status)

	// A successful post stamps the user's last_notified attribute.
	user, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	require.NotNil(t, user.LastNotified)
}

func TestChatAdapterWebhookRejectionIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter, logs, users := chatFixture(t, server)

	ctx := context.Background()
	require.NoError(t, adapter.Deliver(ctx, chatRequest()))

	entries, err := logs.ListForNotification(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.StatusChatFailed, entries[0].Status)

	user, err := users.Get(ctx, "u-1")
	require.NoError(t, err)
	require.Nil(t, user.LastNotified)
}
