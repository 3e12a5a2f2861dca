// Package gateway runs the platform adapters and the profile monitor for the
// lifetime of the bridge and serves its health and readiness over HTTP.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/logger"
	storetypes "wabridge/pkg/store/types"
)

const (
	defaultHealthHost = "0.0.0.0"
	defaultHealthPort = 18790

	storeCheckInterval = 30 * time.Second
	eventBuffer        = 256
)

// Pinger reports whether the persistence backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatsReporter is implemented by stores that can count their rows.
type StatsReporter interface {
	Stats(ctx context.Context) (storetypes.Stats, error)
}

// Runner is a background loop owned by the service, such as the profile monitor.
type Runner interface {
	Run(ctx context.Context) error
}

type Options struct {
	Handlers channel.Handlers
	Store    Pinger
	// Monitor is optional. Its failure is logged, not fatal.
	Monitor Runner
	Events  *bus.MessageBus
}

type Service struct {
	cfg      *config.Config
	log      *slog.Logger
	handlers channel.Handlers
	store    Pinger
	monitor  Runner
	events   *bus.MessageBus
	adapters []channel.Adapter
	health   *health
}

func NewService(cfg *config.Config, adapters []channel.Adapter, opts Options, log *slog.Logger) (*Service, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("config is required")
	case len(adapters) == 0:
		return nil, errors.New("at least one channel adapter is required")
	case opts.Store == nil:
		return nil, errors.New("store is required")
	}

	names := make([]string, 0, len(adapters))
	for _, adapter := range adapters {
		names = append(names, adapter.Name())
	}

	return &Service{
		cfg:      cfg,
		log:      logger.OrDiscard(log).With("component", "gateway.service"),
		handlers: opts.Handlers,
		store:    opts.Store,
		monitor:  opts.Monitor,
		events:   opts.Events,
		adapters: adapters,
		health:   newHealth(names),
	}, nil
}

// Run checks the store, binds the status address and then runs every
// component until ctx ends or an adapter fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.health.start(time.Now().UTC())

	if err := s.checkStore(ctx); err != nil {
		return err
	}

	addr := s.statusAddr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.log.Info("Bridge status server started", "address", addr)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return s.serveStatus(ctx, listener) })
	group.Go(func() error {
		s.watchStore(ctx)
		return nil
	})

	if s.events != nil {
		events, unsubscribe := s.events.SubscribeEvents(ctx, eventBuffer)
		defer unsubscribe()
		group.Go(func() error {
			s.health.count(events)
			return nil
		})
	}

	if s.monitor != nil {
		group.Go(func() error {
			if err := s.monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Error("Profile monitor stopped", "error", err)
			}
			return nil
		})
	}

	for _, adapter := range s.adapters {
		group.Go(func() error { return s.runAdapter(ctx, adapter) })
	}

	return group.Wait()
}

func (s *Service) runAdapter(ctx context.Context, adapter channel.Adapter) error {
	name := adapter.Name()
	s.health.setChannel(name, ChannelState{Running: true})

	err := adapter.Run(ctx, s.handlers)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	s.health.setChannel(name, ChannelState{Error: errorString(err)})
	if err != nil {
		s.log.Error("Channel stopped", "channel", name, "error", err)
		return fmt.Errorf("run %s channel: %w", name, err)
	}
	return nil
}

func (s *Service) watchStore(ctx context.Context) {
	ticker := time.NewTicker(storeCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.checkStore(ctx); err != nil {
				s.log.Warn("Store health check failed", "error", err)
			}
		}
	}
}

func (s *Service) checkStore(ctx context.Context) error {
	err := s.store.Ping(ctx)
	s.health.recordStore(time.Now().UTC(), err)
	if err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	if reporter, ok := s.store.(StatsReporter); ok {
		stats, err := reporter.Stats(ctx)
		if err != nil {
			s.log.Warn("Store stats unavailable", "error", err)
			return nil
		}
		s.health.recordStats(stats)
	}
	return nil
}

func (s *Service) statusAddr() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}
	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
