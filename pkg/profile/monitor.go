package profile

import (
	"context"
	"log/slog"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/logger"
)

const (
	DefaultInterval     = 30 * time.Minute
	DefaultInitialDelay = 5 * time.Minute
	DefaultThrottle     = time.Second
)

// ImageSource fetches the current picture URL of a conversation.
type ImageSource interface {
	FetchProfileImage(ctx context.Context, conversationID string) (string, error)
}

// Subjects lists the conversations to poll.
type Subjects interface {
	Conversations() []channel.Conversation
}

// Notifier delivers a detected change into the conversation's topic.
type Notifier interface {
	ProfileChanged(ctx context.Context, conv channel.Conversation, url string) error
}

type MonitorOptions struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Throttle     time.Duration
	Events       *bus.MessageBus
}

// Monitor polls every registered conversation on a fixed interval.
type Monitor struct {
	source   ImageSource
	subjects Subjects
	notifier Notifier
	tracker  *Tracker
	opts     MonitorOptions
	log      *slog.Logger
}

func NewMonitor(source ImageSource, subjects Subjects, notifier Notifier, tracker *Tracker, opts MonitorOptions, log *slog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.InitialDelay < 0 {
		opts.InitialDelay = 0
	}
	if opts.Throttle < 0 {
		opts.Throttle = 0
	}

	return &Monitor{
		source:   source,
		subjects: subjects,
		notifier: notifier,
		tracker:  tracker,
		opts:     opts,
		log:      logger.OrDiscard(log).With("component", "profile.monitor"),
	}
}

// Run waits for the initial delay, sweeps, then sweeps again every interval
// until ctx ends.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("Profile monitor started", "interval", m.opts.Interval, "initial_delay", m.opts.InitialDelay)

	if !sleep(ctx, m.opts.InitialDelay) {
		return nil
	}
	m.sweepAndLog(ctx)

	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Profile monitor stopped")
			return nil
		case <-ticker.C:
			m.sweepAndLog(ctx)
		}
	}
}

func (m *Monitor) sweepAndLog(ctx context.Context) {
	changed, err := m.Sweep(ctx)
	if err != nil {
		m.log.Debug("Profile sweep interrupted", "error", err)
		return
	}
	m.log.Debug("Profile sweep finished", "changed", changed)
}

// Sweep checks every subject once and returns how many changes were delivered.
// Failures for one subject never stop the sweep.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	changed := 0

	for i, conv := range m.subjects.Conversations() {
		if i > 0 && !sleep(ctx, m.opts.Throttle) {
			return changed, ctx.Err()
		}
		if ctx.Err() != nil {
			return changed, ctx.Err()
		}

		if m.check(ctx, conv) {
			changed++
		}
	}

	return changed, nil
}

func (m *Monitor) check(ctx context.Context, conv channel.Conversation) bool {
	log := m.log.With("conversation_id", conv.ID)

	url, err := m.source.FetchProfileImage(ctx, conv.ID)
	if err != nil {
		log.Debug("Profile picture unavailable", "error", err)
		return false
	}
	if url == "" {
		return false
	}

	changed, err := m.tracker.Observe(ctx, conv.ID, url)
	if err != nil {
		log.Warn("Profile snapshot update failed", "error", err)
		return false
	}
	if !changed {
		return false
	}

	log.Info("Profile picture changed")
	m.opts.Events.PublishEvent(ctx, bus.Event{
		Type:           bus.EventProfileChanged,
		Direction:      bus.DirectionInbound,
		ConversationID: conv.ID,
	})

	if err := m.notifier.ProfileChanged(ctx, conv, url); err != nil {
		log.Warn("Profile change delivery failed", "error", err)
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
