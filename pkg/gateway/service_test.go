package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/logger"
	storetypes "wabridge/pkg/store/types"

	"github.com/stretchr/testify/require"
)

func TestHealthReadiness(t *testing.T) {
	t.Parallel()

	h := newHealth([]string{"telegram", "whatsapp"})
	h.setChannel("telegram", ChannelState{Running: true})
	h.setChannel("whatsapp", ChannelState{Running: true})
	if h.ready() {
		t.Fatal("expected not ready before the first store check")
	}

	h.recordStore(time.Now(), nil)
	if !h.ready() {
		t.Fatal("expected ready with running channels and healthy store")
	}

	h.setChannel("whatsapp", ChannelState{Error: "nats: connection closed"})
	if h.ready() {
		t.Fatal("expected not ready when one channel stopped")
	}

	h.setChannel("whatsapp", ChannelState{Running: true})
	h.recordStore(time.Now(), errors.New("boom"))
	if h.ready() {
		t.Fatal("expected not ready when the last store check failed")
	}

	if newHealth(nil).ready() {
		t.Fatal("expected not ready without channels")
	}
}

func TestNewServiceValidates(t *testing.T) {
	t.Parallel()

	adapters := []channel.Adapter{&scriptedAdapter{name: "telegram", done: make(chan struct{})}}
	store := &toggledStore{}

	_, err := NewService(nil, adapters, Options{Store: store}, nil)
	require.Error(t, err)

	_, err = NewService(&config.Config{}, nil, Options{Store: store}, nil)
	require.Error(t, err)

	_, err = NewService(&config.Config{}, adapters, Options{}, nil)
	require.ErrorContains(t, err, "store is required")

	svc, err := NewService(&config.Config{}, adapters, Options{Store: store}, nil)
	require.NoError(t, err)
	require.Contains(t, svc.health.channels, "telegram")
	require.Equal(t, "0.0.0.0:18790", svc.statusAddr())
}

func TestSnapshotCountsEvents(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := newHealth([]string{"telegram"})
	h.start(started)
	h.setChannel("telegram", ChannelState{Running: true})
	require.Nil(t, h.snapshot("ok", started).Events)

	events := make(chan bus.Event, 3)
	events <- bus.Event{Type: bus.EventRelaySucceeded}
	events <- bus.Event{Type: bus.EventRelaySucceeded}
	events <- bus.Event{Type: bus.EventRelayFailed}
	close(events)
	h.count(events)

	status := h.snapshot("ok", started.Add(90*time.Second))
	require.Equal(t, int64(90), status.UptimeSeconds)
	require.Equal(t, int64(2), status.Events["relay_succeeded"])
	require.Equal(t, int64(1), status.Events["relay_failed"])
	require.True(t, status.Channels["telegram"].Running)

	// The snapshot is a copy.
	status.Channels["telegram"] = ChannelState{}
	require.True(t, h.snapshot("ok", started).Channels["telegram"].Running)
}

func TestCheckStoreRecordsOutcome(t *testing.T) {
	t.Parallel()

	store := &toggledStore{}
	svc := &Service{store: store, health: newHealth(nil)}

	require.NoError(t, svc.checkStore(context.Background()))
	require.False(t, svc.health.storeOKAt.IsZero())

	store.setErr(context.DeadlineExceeded)
	require.ErrorIs(t, svc.checkStore(context.Background()), context.DeadlineExceeded)
	require.Equal(t, context.DeadlineExceeded.Error(), svc.health.storeErr)
	require.False(t, svc.health.storeOKAt.IsZero())
}

type countingStore struct {
	toggledStore
	stats    storetypes.Stats
	statsErr error
}

func (s *countingStore) Stats(context.Context) (storetypes.Stats, error) {
	return s.stats, s.statsErr
}

func TestCheckStoreRecordsRowCounts(t *testing.T) {
	t.Parallel()

	store := &countingStore{stats: storetypes.Stats{Topics: 4, Users: 3, Messages: 27}}
	svc := &Service{log: logger.Discard(), store: store, health: newHealth([]string{"telegram"})}

	require.NoError(t, svc.checkStore(context.Background()))
	status := svc.health.snapshot("ready", time.Now())
	require.NotNil(t, status.StoreStats)
	require.Equal(t, storetypes.Stats{Topics: 4, Users: 3, Messages: 27}, *status.StoreStats)

	store.stats = storetypes.Stats{Topics: 4, Users: 3, Messages: 28}
	store.statsErr = errors.New("scan failed")
	require.NoError(t, svc.checkStore(context.Background()))
	require.Equal(t, 27, svc.health.snapshot("ready", time.Now()).StoreStats.Messages)

	rec := httptest.NewRecorder()
	svc.events = bus.NewMessageBus()
	defer svc.events.Close()
	svc.statusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Contains(t, rec.Body.String(), `"store_stats":{`)
	require.Contains(t, rec.Body.String(), `"users":3`)
	require.Contains(t, rec.Body.String(), `"messages":27`)
}

func TestStatusHandler(t *testing.T) {
	t.Parallel()

	events := bus.NewMessageBus()
	defer events.Close()
	_, unsubscribe := events.SubscribeEvents(context.Background(), 1)
	defer unsubscribe()
	events.PublishEvent(context.Background(), bus.Event{Type: bus.EventRelaySucceeded})
	events.PublishEvent(context.Background(), bus.Event{Type: bus.EventRelaySucceeded})

	svc := &Service{log: logger.Discard(), events: events, health: newHealth([]string{"telegram"})}
	handler := svc.statusHandler()

	get := func(path string) (int, Status) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var status Status
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
		return rec.Code, status
	}

	code, status := get("/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", status.Status)
	require.Equal(t, uint64(1), status.EventsDropped)

	code, status = get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, code)
	require.Equal(t, "not_ready", status.Status)

	svc.health.setChannel("telegram", ChannelState{Running: true})
	svc.health.recordStore(time.Now(), nil)
	code, status = get("/readyz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ready", status.Status)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/readyz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "whatsapp" }

func (failingAdapter) Run(context.Context, channel.Handlers) error {
	return errors.New("nats: no servers available")
}

func TestRunStopsWhenAnAdapterFails(t *testing.T) {
	cfg, _ := testConfig(t)
	blocking := &scriptedAdapter{name: "telegram", done: make(chan struct{})}

	svc, err := NewService(cfg, []channel.Adapter{blocking, failingAdapter{}}, Options{Store: &toggledStore{}}, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- svc.Run(context.Background()) }()

	select {
	case err := <-errCh:
		require.ErrorContains(t, err, "run whatsapp channel")
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after an adapter failed")
	}
	require.Equal(t, "nats: no servers available", svc.health.snapshot("", time.Now()).Channels["whatsapp"].Error)
}
