package profile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/store/local"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu   sync.Mutex
	urls map[string]string
	errs map[string]error
}

func (f *fakeSource) set(id, url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls[id] = url
}

func (f *fakeSource) FetchProfileImage(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return "", err
	}
	return f.urls[id], nil
}

type staticSubjects []channel.Conversation

func (s staticSubjects) Conversations() []channel.Conversation { return s }

type recordingNotifier struct {
	mu      sync.Mutex
	changes []string
	signal  chan struct{}
}

func (n *recordingNotifier) ProfileChanged(_ context.Context, conv channel.Conversation, url string) error {
	n.mu.Lock()
	n.changes = append(n.changes, conv.ID+"="+url)
	n.mu.Unlock()
	if n.signal != nil {
		select {
		case n.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes)
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	s, err := local.Open(t.TempDir())
	require.NoError(t, err)
	return NewTracker(s)
}

func TestDigestIsDeterministic(t *testing.T) {
	a := Digest("https://pps.example/v/t61/abc.jpg")
	if a != Digest("https://pps.example/v/t61/abc.jpg") {
		t.Fatalf("Digest is not deterministic")
	}
	if len(a) != 64 {
		t.Fatalf("len(Digest) = %d, want 64", len(a))
	}
	if a == Digest("https://pps.example/v/t61/def.jpg") {
		t.Fatalf("different URLs produced the same digest")
	}
}

func TestTrackerObserve(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)

	changed, err := tr.Observe(ctx, "155", "u1")
	require.NoError(t, err)
	require.False(t, changed, "first observation is not a change")

	changed, err = tr.Observe(ctx, "155", "u1")
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = tr.Observe(ctx, "155", "u2")
	require.NoError(t, err)
	require.True(t, changed)

	snap, ok, err := tr.store.ProfileSnapshot(ctx, "155")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Digest("u2"), snap.ImageHash)
	require.Equal(t, "u2", snap.ImageURL)
}

func TestTrackerRecordSuppressesLaterChange(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)

	require.NoError(t, tr.Record(ctx, "155", "u1"))
	changed, err := tr.Observe(ctx, "155", "u1")
	require.NoError(t, err)
	require.False(t, changed)
}

func TestSweepEmitsOnlyOnDifferingHash(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{urls: map[string]string{"155": "u1", "group_1203": "g1"}}
	subjects := staticSubjects{{ID: "155", Name: "Alice"}, {ID: "group_1203", Name: "🏷️ Family"}}
	notifier := &recordingNotifier{}
	events := bus.NewMessageBus()
	defer events.Close()
	ch, unsubscribe := events.SubscribeEvents(ctx, 10)
	defer unsubscribe()

	m := NewMonitor(src, subjects, notifier, newTracker(t), MonitorOptions{Events: events}, nil)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 0, notifier.count())

	src.set("155", "u2")
	n, err = m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"155=u2"}, notifier.changes)

	select {
	case ev := <-ch:
		require.Equal(t, bus.EventProfileChanged, ev.Type)
		require.Equal(t, "155", ev.ConversationID)
	case <-time.After(time.Second):
		t.Fatal("profile_changed event not published")
	}
}

func TestSweepSkipsUnavailableSubjects(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		urls: map[string]string{"2": ""},
		errs: map[string]error{"1": errors.New("item-not-found")},
	}
	src.urls["3"] = "u3"
	notifier := &recordingNotifier{}
	tr := newTracker(t)
	require.NoError(t, tr.Record(ctx, "3", "old"))

	m := NewMonitor(src, staticSubjects{{ID: "1"}, {ID: "2"}, {ID: "3"}}, notifier, tr, MonitorOptions{}, nil)

	n, err := m.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, ok, err := tr.store.ProfileSnapshot(ctx, "2")
	require.NoError(t, err)
	require.False(t, ok, "empty URL must not create a snapshot")
}

func TestSweepStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{urls: map[string]string{"1": "a", "2": "b"}}
	m := NewMonitor(src, staticSubjects{{ID: "1"}, {ID: "2"}}, &recordingNotifier{}, newTracker(t),
		MonitorOptions{Throttle: time.Hour}, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := m.Sweep(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunSweepsAfterInitialDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := newTracker(t)
	require.NoError(t, tr.Record(ctx, "155", "old"))
	src := &fakeSource{urls: map[string]string{"155": "new"}}
	notifier := &recordingNotifier{signal: make(chan struct{}, 1)}

	m := NewMonitor(src, staticSubjects{{ID: "155"}}, notifier, tr,
		MonitorOptions{InitialDelay: 10 * time.Millisecond, Interval: time.Hour}, nil)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-notifier.signal:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not deliver the change")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}
