// Package correlation remembers which source message each relayed destination
// message came from, so replies can be threaded back across platforms.
package correlation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultMaxEntries = 10000
	DefaultTTL        = 24 * time.Hour
)

// StatusRef identifies a status post on the source platform. Status posts have
// no addressable id of their own, so the key is derived from sender and time.
type StatusRef struct {
	Sender    string
	Timestamp int64
	// MessageID is the source id when the source supplied one.
	MessageID string
}

// Key returns the composite "sender_timestamp" form.
func (r StatusRef) Key() string {
	return r.Sender + "_" + strconv.FormatInt(r.Timestamp, 10)
}

// ReactionTarget is the id a reaction on the source platform should point at.
func (r StatusRef) ReactionTarget() string {
	if r.MessageID != "" {
		return r.MessageID
	}
	return "status_" + strconv.FormatInt(r.Timestamp, 10)
}

// ParseStatusKey splits a key produced by Key. The sender may itself contain underscores.
func ParseStatusKey(key string) (StatusRef, error) {
	i := strings.LastIndexByte(key, '_')
	if i <= 0 || i == len(key)-1 {
		return StatusRef{}, fmt.Errorf("malformed status key %q", key)
	}
	ts, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return StatusRef{}, fmt.Errorf("malformed status key %q: %w", key, err)
	}
	return StatusRef{Sender: key[:i], Timestamp: ts}, nil
}

// Options bound the map. Zero values select the defaults.
type Options struct {
	MaxEntries int
	TTL        time.Duration
}

// Map is a bounded, expiring correlation store. It is safe for concurrent use.
// Entries older than the TTL or pushed out by newer ones no longer resolve, and
// a reply to them is relayed unthreaded.
type Map struct {
	messages *expirable.LRU[int, string]
	statuses *expirable.LRU[int, StatusRef]
	sources  *expirable.LRU[string, int]
}

func New(opts Options) *Map {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}

	return &Map{
		messages: expirable.NewLRU[int, string](opts.MaxEntries, nil, opts.TTL),
		statuses: expirable.NewLRU[int, StatusRef](opts.MaxEntries, nil, opts.TTL),
		sources:  expirable.NewLRU[string, int](opts.MaxEntries, nil, opts.TTL),
	}
}

// Record links a destination message to the source message it relayed. Last write wins.
func (m *Map) Record(destinationID int, sourceID string) {
	if destinationID == 0 || sourceID == "" {
		return
	}
	m.messages.Add(destinationID, sourceID)
	m.sources.Add(sourceID, destinationID)
}

// Resolve returns the source message id behind a destination message.
func (m *Map) Resolve(destinationID int) (string, bool) {
	return m.messages.Get(destinationID)
}

// ResolveSource returns the destination message a source message was relayed as.
func (m *Map) ResolveSource(sourceID string) (int, bool) {
	if sourceID == "" {
		return 0, false
	}
	return m.sources.Get(sourceID)
}

func (m *Map) RecordStatus(destinationID int, ref StatusRef) {
	if destinationID == 0 || ref.Sender == "" {
		return
	}
	m.statuses.Add(destinationID, ref)
}

func (m *Map) ResolveStatus(destinationID int) (StatusRef, bool) {
	return m.statuses.Get(destinationID)
}

// Len reports the live message and status entries.
func (m *Map) Len() int {
	return m.messages.Len() + m.statuses.Len()
}
