package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_SubscribeAndPublishInProcess(t *testing.T) {
	b := NewBus(time.Second)

	ch, unsubscribe := b.Subscribe(SessionChannel("sess-1"))
	defer unsubscribe()

	b.Publish(Event{Type: EventTypeTaskStatus, Channel: SessionChannel("sess-1"), Data: map[string]any{"task_id": "task-1"}})

	select {
	case evt := <-ch:
		assert.Equal(t, EventTypeTaskStatus, evt.Type)
		assert.Equal(t, "task-1", evt.Data["task_id"])
	case <-time.After(time.Second):
		t.Fatal("expected event, timed out")
	}
}

func TestBus_PublishToUnsubscribedChannelIsNoop(t *testing.T) {
	b := NewBus(time.Second)
	ch, unsubscribe := b.Subscribe(SessionChannel("sess-1"))
	defer unsubscribe()

	b.Publish(Event{Type: EventTypeTaskStatus, Channel: SessionChannel("sess-2")})

	select {
	case evt := <-ch:
		t.Fatalf("expected no event on sess-1's channel, got %+v", evt)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBus(time.Second)
	ch, unsubscribe := b.Subscribe(GlobalChannel)
	unsubscribe()

	b.Publish(Event{Type: EventTypePartyStatus, Channel: GlobalChannel})

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed or empty after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
