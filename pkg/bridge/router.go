// Package bridge routes events between WhatsApp conversations and their
// Telegram forum topics.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/confirm"
	"wabridge/pkg/correlation"
	"wabridge/pkg/logger"
	"wabridge/pkg/registry"
	storetypes "wabridge/pkg/store/types"
	"wabridge/pkg/transcode"
)

// ErrRelayFailed wraps every failed relay in either direction.
var ErrRelayFailed = errors.New("relay failed")

type Deps struct {
	Topics      *registry.Registry
	Correlation *correlation.Map
	Confirm     *confirm.Service
	Destination channel.Destination
	Source      channel.Source
	Transcoder  transcode.Filter
	Events      *bus.MessageBus
	// Journal is optional.
	Journal Journal
}

// Journal keeps the audit trail of relayed conversations and messages.
type Journal interface {
	SaveUser(ctx context.Context, user storetypes.User) error
	AppendMessage(ctx context.Context, record storetypes.MessageRecord) error
}

type Options struct {
	// ForwardMedia enables WhatsApp media download and upload to Telegram.
	ForwardMedia bool
	Now          func() time.Time
}

// Router is stateless apart from its collaborators and safe for concurrent use.
// Errors returned by its handlers are already logged; dispatch loops only need
// to keep going.
type Router struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

func New(deps Deps, opts Options, log *slog.Logger) *Router {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Correlation == nil {
		deps.Correlation = correlation.New(correlation.Options{})
	}

	return &Router{
		deps: deps,
		opts: opts,
		log:  logger.OrDiscard(log).With("component", "bridge.router"),
	}
}

// Handlers returns the channel handlers that feed this router.
func (r *Router) Handlers() channel.Handlers {
	return channel.Handlers{
		Source:      r.HandleSource,
		Destination: r.HandleDestination,
	}
}

// sendFunc performs the Telegram sends for one relay and returns the message
// id replies should thread to.
type sendFunc func(ctx context.Context, topicID int) (int, error)

// relayToTopic runs send inside the registry's recreate-on-missing policy and
// records the correlation only after a successful send.
func (r *Router) relayToTopic(ctx context.Context, conv channel.Conversation, sourceID string, send sendFunc) (int, error) {
	var (
		messageID int
		topicID   int
	)

	err := r.deps.Topics.Relay(ctx, conv, func(ctx context.Context, topic int) error {
		id, err := send(ctx, topic)
		if err != nil {
			return err
		}
		messageID, topicID = id, topic
		return nil
	})
	if err != nil {
		r.log.Warn("Relay to Telegram failed", "conversation_id", conv.ID, "error", err)
		r.publish(ctx, bus.Event{
			Type:           bus.EventRelayFailed,
			Direction:      bus.DirectionInbound,
			ConversationID: conv.ID,
			Error:          err.Error(),
		})
		return 0, fmt.Errorf("%w: %s: %w", ErrRelayFailed, conv.ID, err)
	}

	if sourceID != "" {
		r.deps.Correlation.Record(messageID, sourceID)
	}
	r.log.Debug("Relayed to Telegram", "conversation_id", conv.ID, "topic_id", topicID, "message_id", messageID)
	r.publish(ctx, bus.Event{
		Type:           bus.EventRelaySucceeded,
		Direction:      bus.DirectionInbound,
		ConversationID: conv.ID,
		TopicID:        topicID,
	})
	return messageID, nil
}

func (r *Router) drop(ctx context.Context, direction bus.Direction, convID, reason string) {
	r.log.Debug("Event dropped", "conversation_id", convID, "reason", reason)
	r.publish(ctx, bus.Event{
		Type:           bus.EventRelayDropped,
		Direction:      direction,
		ConversationID: convID,
		Payload:        map[string]string{"reason": reason},
	})
}

func (r *Router) publish(ctx context.Context, event bus.Event) {
	r.deps.Events.PublishEvent(ctx, event)
}

// ProfileChanged posts a changed profile picture into the conversation's topic,
// creating the topic first when needed.
func (r *Router) ProfileChanged(ctx context.Context, conv channel.Conversation, url string) error {
	name := conv.Name
	if name == "" {
		name = conv.ID
	}

	_, err := r.relayToTopic(ctx, conv, "", func(ctx context.Context, topicID int) (int, error) {
		return r.deps.Destination.SendMedia(ctx, topicID, channel.OutboundMedia{
			Kind:    channel.MediaImage,
			URL:     url,
			Caption: profileUpdatedCaption(name),
		}, channel.SendOptions{})
	})
	return err
}
