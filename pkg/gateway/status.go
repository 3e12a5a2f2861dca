package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net"
	"net/http"
	"sync"
	"time"

	"wabridge/pkg/bus"
	storetypes "wabridge/pkg/store/types"
)

type ChannelState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// Status is the JSON body served by /healthz and /readyz.
type Status struct {
	Status        string                  `json:"status"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	StoreLastOKAt string                  `json:"store_last_ok_at,omitempty"`
	StoreLastErr  string                  `json:"store_last_error,omitempty"`
	StoreStats    *storetypes.Stats       `json:"store_stats,omitempty"`
	Channels      map[string]ChannelState `json:"channels"`
	Events        map[string]int64        `json:"events,omitempty"`
	EventsDropped uint64                  `json:"events_dropped,omitempty"`
}

// health is the mutable state behind the status endpoints.
type health struct {
	mu        sync.RWMutex
	startedAt time.Time
	storeOKAt time.Time
	storeErr  string
	stats     *storetypes.Stats
	channels  map[string]ChannelState
	counters  map[bus.EventType]int64
}

func newHealth(channels []string) *health {
	h := &health{
		channels: make(map[string]ChannelState, len(channels)),
		counters: make(map[bus.EventType]int64),
	}
	for _, name := range channels {
		h.channels[name] = ChannelState{}
	}
	return h
}

func (h *health) start(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startedAt = at
}

func (h *health) setChannel(name string, state ChannelState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.channels[name] = state
}

func (h *health) recordStore(at time.Time, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.storeErr = err.Error()
		return
	}
	h.storeErr = ""
	h.storeOKAt = at
}

func (h *health) recordStats(stats storetypes.Stats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats = &stats
}

// count tallies events by type until the channel closes.
func (h *health) count(events <-chan bus.Event) {
	for event := range events {
		h.mu.Lock()
		h.counters[event.Type]++
		h.mu.Unlock()
	}
}

// ready requires every channel loop to run and the last store check to have passed.
func (h *health) ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.channels) == 0 || h.storeOKAt.IsZero() || h.storeErr != "" {
		return false
	}
	for _, state := range h.channels {
		if !state.Running {
			return false
		}
	}
	return true
}

func (h *health) snapshot(status string, now time.Time) Status {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := Status{
		Status:       status,
		StoreLastErr: h.storeErr,
		Channels:     maps.Clone(h.channels),
	}
	if !h.startedAt.IsZero() {
		out.UptimeSeconds = int64(now.Sub(h.startedAt).Seconds())
	}
	if h.stats != nil {
		stats := *h.stats
		out.StoreStats = &stats
	}
	if !h.storeOKAt.IsZero() {
		out.StoreLastOKAt = h.storeOKAt.Format(time.RFC3339)
	}
	if len(h.counters) > 0 {
		out.Events = make(map[string]int64, len(h.counters))
		for eventType, n := range h.counters {
			out.Events[string(eventType)] = n
		}
	}
	return out
}

func (s *Service) statusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeStatus(w, http.StatusOK, "ok")
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		if s.health.ready() {
			s.writeStatus(w, http.StatusOK, "ready")
			return
		}
		s.writeStatus(w, http.StatusServiceUnavailable, "not_ready")
	})
	return mux
}

func (s *Service) writeStatus(w http.ResponseWriter, code int, status string) {
	body := s.health.snapshot(status, time.Now().UTC())
	body.EventsDropped = s.events.Dropped()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

// serveStatus serves on listener until ctx ends.
func (s *Service) serveStatus(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           s.statusHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})
	defer stop()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve status: %w", err)
	}
	return nil
}
