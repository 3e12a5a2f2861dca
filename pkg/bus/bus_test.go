package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitFor = 500 * time.Millisecond

// requireClosed fails unless ch is closed (drained of buffered events) within waitFor.
func requireClosed(t *testing.T, ch <-chan Event) {
	t.Helper()

	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel was not closed")
		}
	}
}

func TestEverySubscriberReceivesTheEvent(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)
	ctx := context.Background()

	first, unsubFirst := mb.SubscribeEvents(ctx, 1)
	defer unsubFirst()
	second, unsubSecond := mb.SubscribeEvents(ctx, 1)
	defer unsubSecond()

	require.True(t, mb.PublishEvent(ctx, Event{Type: EventTopicCreated, ConversationID: "4915112345678", TopicID: 12}))

	for i, ch := range []<-chan Event{first, second} {
		select {
		case got := <-ch:
			if got.Type != EventTopicCreated || got.TopicID != 12 {
				t.Fatalf("subscriber %d got %+v, want topic_created for topic 12", i, got)
			}
			if got.ID == "" || got.At.IsZero() {
				t.Fatalf("subscriber %d got unstamped event %+v", i, got)
			}
		case <-time.After(waitFor):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublishKeepsCallerStamps(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 1)
	defer unsubscribe()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mb.PublishEvent(context.Background(), Event{ID: "evt-1", At: at, Type: EventRelayDropped})

	got := <-events
	require.Equal(t, "evt-1", got.ID)
	require.Equal(t, at, got.At)
}

func TestFullSubscriberCountsDrops(t *testing.T) {
	mb := NewMessageBus()
	t.Cleanup(mb.Close)
	ctx := context.Background()

	_, unsubscribe := mb.SubscribeEvents(ctx, 1)
	defer unsubscribe()

	start := time.Now()
	for range 3 {
		require.True(t, mb.PublishEvent(ctx, Event{Type: EventRelaySucceeded}))
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("publishing to a full subscriber took %v", elapsed)
	}
	if got := mb.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
}

func TestSubscriptionEnds(t *testing.T) {
	tests := []struct {
		name string
		end  func(mb *MessageBus, cancelCtx, unsubscribe func())
	}{
		{"unsubscribe", func(_ *MessageBus, _, unsubscribe func()) { unsubscribe() }},
		{"context", func(_ *MessageBus, cancelCtx, _ func()) { cancelCtx() }},
		{"close", func(mb *MessageBus, _, _ func()) { mb.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mb := NewMessageBus()
			t.Cleanup(mb.Close)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			events, unsubscribe := mb.SubscribeEvents(ctx, 1)

			tt.end(mb, cancel, unsubscribe)
			requireClosed(t, events)
			require.Eventually(t, func() bool { return mb.Subscribers() == 0 }, waitFor, 10*time.Millisecond)

			// Repeated unsubscribes are harmless.
			unsubscribe()
		})
	}
}

func TestPublishReportsFalse(t *testing.T) {
	var nilBus *MessageBus
	require.False(t, nilBus.PublishEvent(context.Background(), Event{Type: EventRelayFailed}))
	require.Zero(t, nilBus.Dropped())

	closed := NewMessageBus()
	closed.Close()
	require.False(t, closed.PublishEvent(context.Background(), Event{Type: EventRelayFailed}))

	open := NewMessageBus()
	t.Cleanup(open.Close)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.False(t, open.PublishEvent(ctx, Event{Type: EventRelayFailed}))
}

func TestSubscribeAfterCloseIsClosed(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()
	mb.Close()

	events, unsubscribe := mb.SubscribeEvents(context.Background(), 0)
	defer unsubscribe()

	requireClosed(t, events)
	require.Zero(t, mb.Subscribers())
}
