package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsSortableIDs(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first := New(TypeOrderExpired, "order:1", at, map[string]any{"order_id": "1"})
	second := New(TypeOrderExpired, "order:2", at.Add(time.Second), nil)

	require.NoError(t, first.Validate())
	assert.Len(t, first.ID, 26)
	assert.Less(t, first.ID, second.ID)
	assert.Equal(t, at, first.OccurredAt)
}

func TestValidateRejectsMissingType(t *testing.T) {
	assert.Error(t, Event{ID: "x"}.Validate())
}

func TestHubFanOutAndBacklog(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()

	require.NoError(t, hub.Publish(ctx, New(TypeDiscountDeactivated, "discount:1", time.Time{}, nil)))

	sub, backlog, err := hub.Subscribe()
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, backlog, 1)
	assert.Equal(t, TypeDiscountDeactivated, backlog[0].Type)

	evt := New(TypeRefundCreated, "refund:9", time.Time{}, nil)
	require.NoError(t, hub.Publish(ctx, evt))

	select {
	case got := <-sub.Events():
		assert.Equal(t, evt.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription")
	}

	sub.Close()
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	hub := NewHub()
	sub, _, err := hub.Subscribe()
	require.NoError(t, err)
	defer sub.Close()

	for i := 0; i < DefaultSubscriberBuffer*2; i++ {
		require.NoError(t, hub.Publish(context.Background(), New(TypeOrderExpired, "order", time.Time{}, nil)))
	}
	assert.Len(t, sub.Events(), DefaultSubscriberBuffer)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	hub := NewHub()
	multi := Multi{hub, failingPublisher{err: boom}, nil}

	err := multi.Publish(context.Background(), New(TypeOrderExpired, "order:1", time.Time{}, nil))
	assert.ErrorIs(t, err, boom)

	_, backlog, _ := hub.Subscribe()
	assert.Len(t, backlog, 1, "healthy publishers still receive the event")
}
