package bus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTopicCreated    EventType = "topic_created"
	EventTopicRecreated  EventType = "topic_recreated"
	EventRelaySucceeded  EventType = "relay_succeeded"
	EventRelayFailed     EventType = "relay_failed"
	EventRelayDropped    EventType = "relay_dropped"
	EventProfileChanged  EventType = "profile_changed"
	EventConfirmFailed   EventType = "confirm_failed"
	EventPersistenceFail EventType = "persistence_failed"
)

// Direction tags which platform an event originated on.
type Direction string

const (
	DirectionInbound  Direction = "whatsapp_to_telegram"
	DirectionOutbound Direction = "telegram_to_whatsapp"
)

type Event struct {
	ID             string            `json:"id"`
	Type           EventType         `json:"type"`
	At             time.Time         `json:"at"`
	Direction      Direction         `json:"direction,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	TopicID        int               `json:"topic_id,omitempty"`
	Payload        map[string]string `json:"payload,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// PublishEvent stamps the event and offers it to every subscriber. It reports
// false when the bus is nil or closed, or ctx is already done.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if mb == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return false
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	// Held across the sends so remove cannot close a channel mid-send.
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return false
	}
	for sub := range mb.subs {
		select {
		case sub.ch <- event:
		default:
			mb.dropped.Add(1)
		}
	}
	return true
}
