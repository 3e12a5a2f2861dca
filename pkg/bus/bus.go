// Package bus fans bridge lifecycle events out to in-process observers such
// as the gateway status counters.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultBufferSize = 100

type subscription struct {
	ch chan Event
}

// MessageBus delivers each published event to every subscriber with buffer
// space. A full subscriber misses the event and the drop is counted.
type MessageBus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool

	dropped atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		subs: make(map[*subscription]struct{}),
	}
}

// Subscribers reports the number of live subscriptions.
func (mb *MessageBus) Subscribers() int {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return len(mb.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was full.
func (mb *MessageBus) Dropped() uint64 {
	if mb == nil {
		return 0
	}
	return mb.dropped.Load()
}

// SubscribeEvents registers a subscriber. The channel closes when ctx ends,
// the returned cancel func runs, or the bus closes.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}
	sub := &subscription{ch: make(chan Event, buffer)}

	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	mb.subs[sub] = struct{}{}
	mb.mu.Unlock()

	cancel := func() { mb.remove(sub) }
	stop := context.AfterFunc(ctx, cancel)
	return sub.ch, func() {
		stop()
		cancel()
	}
}

func (mb *MessageBus) remove(sub *subscription) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if _, ok := mb.subs[sub]; ok {
		delete(mb.subs, sub)
		close(sub.ch)
	}
}

// Close ends every subscription. Later publishes report false.
func (mb *MessageBus) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	for sub := range mb.subs {
		close(sub.ch)
	}
	clear(mb.subs)
}
