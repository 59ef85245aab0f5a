package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/telegraphhq/telegraph/internal/database/testutil"
	"github.com/telegraphhq/telegraph/internal/models"
	apperrors "github.com/telegraphhq/telegraph/pkg/errors"
)

type fakeEnqueuer struct {
	mu       sync.Mutex
	messages []models.NotificationRequest
	failFor  map[string]error
}

func (f *fakeEnqueuer) EnqueueJSON(_ context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var req models.NotificationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failFor[req.Channel]; ok {
		return err
	}
	f.messages = append(f.messages, req)
	return nil
}

func (f *fakeEnqueuer) byChannel() map[string]models.NotificationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.NotificationRequest, len(f.messages))
	for _, msg := range f.messages {
		out[msg.Channel] = msg
	}
	return out
}

func newIntakeFixture(t *testing.T) (*IntakeService, *fakeEnqueuer) {
	t.Helper()

	users, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)
	_, err = users.Create(context.Background(), CreateUserInput{ID: "u-1", Name: "Alice", Email: "alice@example.com"})
	require.NoError(t, err)

	q := &fakeEnqueuer{failFor: map[string]error{}}
	svc, err := NewIntakeService(users, q)
	require.NoError(t, err)
	return svc, q
}

func TestIntakeSubmitFansOutPerChannel(t *testing.T) {
	svc, q := newIntakeFixture(t)

	results, err := svc.Submit(context.Background(), SubmitInput{
		UserID: "u-1",
		Channels: map[string]ChannelInput{
			models.ChannelInApp: {Message: "hi"},
			models.ChannelEmail: {Message: "hi", Subject: "greetings"},
			models.ChannelChat:  {Message: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, result := range results {
		require.Empty(t, result.Error)
		require.NotEmpty(t, result.NotificationID)
	}

	queued := q.byChannel()
	require.Len(t, queued, 3)

	email := queued[models.ChannelEmail]
	require.Equal(t, "alice@example.com", email.Body.ReceiverEmail)
	require.Equal(t, "greetings", email.Body.Subject)
	require.False(t, email.CreatedAt.IsZero())
	require.Empty(t, email.Status)

	// Every channel of one submission gets its own notification id.
	require.NotEqual(t, queued[models.ChannelInApp].NotificationID, email.NotificationID)
}

func TestIntakeSubmitUnknownUser(t *testing.T) {
	svc, _ := newIntakeFixture(t)

	_, err := svc.Submit(context.Background(), SubmitInput{
		UserID:   "ghost",
		Channels: map[string]ChannelInput{models.ChannelInApp: {Message: "hi"}},
	})
	require.ErrorIs(t, err, apperrors.ErrUserNotFound)
}

func TestIntakeSubmitChannelFailuresAreIsolated(t *testing.T) {
	svc, q := newIntakeFixture(t)
	q.failFor[models.ChannelChat] = errors.New("broker down")

	results, err := svc.Submit(context.Background(), SubmitInput{
		UserID: "u-1",
		Channels: map[string]ChannelInput{
			models.ChannelInApp: {Message: "hi"},
			models.ChannelChat:  {Message: "hi"},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	byChannel := map[string]ChannelResult{}
	for _, result := range results {
		byChannel[result.Channel] = result
	}
	require.Empty(t, byChannel[models.ChannelInApp].Error)
	require.NotEmpty(t, byChannel[models.ChannelChat].Error)

	require.Len(t, q.byChannel(), 1)
}

func TestIntakeSubmitEmailRequiresAddress(t *testing.T) {
	users, err := NewUserService(testutil.MustOpenTestDB(t))
	require.NoError(t, err)
	_, err = users.Create(context.Background(), CreateUserInput{ID: "u-2", Name: "Bob"})
	require.NoError(t, err)

	svc, err := NewIntakeService(users, &fakeEnqueuer{failFor: map[string]error{}})
	require.NoError(t, err)

	results, err := svc.Submit(context.Background(), SubmitInput{
		UserID:   "u-2",
		Channels: map[string]ChannelInput{models.ChannelEmail: {Message: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, apperrors.ErrMissingContactAttribute.Message, results[0].Error)
}

func TestIntakeSubmitRejectsUnknownChannel(t *testing.T) {
	svc, _ := newIntakeFixture(t)

	results, err := svc.Submit(context.Background(), SubmitInput{
		UserID:   "u-1",
		Channels: map[string]ChannelInput{"fax": {Message: "hi"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotEmpty(t, results[0].Error)
}

func TestIntakeSubmitValidatesInput(t *testing.T) {
	svc, _ := newIntakeFixture(t)

	_, err := svc.Submit(context.Background(), SubmitInput{UserID: ""})
	require.Error(t, err)

	_, err = svc.Submit(context.Background(), SubmitInput{UserID: "u-1"})
	require.Error(t, err)
}
