package channel

import (
	"context"
)

// SourceHandler processes one decoded WhatsApp event.
type SourceHandler func(context.Context, SourceEvent) error

// DestinationHandler processes one Telegram message posted inside the bridge chat.
type DestinationHandler func(context.Context, DestinationMessage) error

// Handlers routes decoded platform events into the bridge. Each adapter uses
// the handler matching the platform it listens on.
type Handlers struct {
	Source      SourceHandler
	Destination DestinationHandler
}

// Adapter runs the receive loop of one platform until the context ends.
type Adapter interface {
	Name() string
	Run(context.Context, Handlers) error
}

// SendOptions tune a single destination send.
type SendOptions struct {
	ReplyTo             int
	DisableNotification bool
}

// Destination is the Telegram surface the bridge drives. Every send targets
// one forum topic of the configured supergroup and returns the new message id.
type Destination interface {
	CreateTopic(ctx context.Context, name string, iconColor int) (int, error)
	SendText(ctx context.Context, topicID int, text string, opts SendOptions) (int, error)
	SendMedia(ctx context.Context, topicID int, media OutboundMedia, opts SendOptions) (int, error)
	SendContact(ctx context.Context, topicID int, phone string, name string) (int, error)
	SendLocation(ctx context.Context, topicID int, location Location) (int, error)
	PinMessage(ctx context.Context, messageID int) error
	SetReaction(ctx context.Context, messageID int, emoji string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// Source is the WhatsApp surface the bridge drives.
type Source interface {
	SendMessage(ctx context.Context, conversationID string, payload SourcePayload) (string, error)
	// FetchProfileImage returns an empty URL when the subject has no visible picture.
	FetchProfileImage(ctx context.Context, conversationID string) (string, error)
	ConversationInfo(ctx context.Context, conversationID string) (ConversationInfo, error)
	DownloadMedia(ctx context.Context, media MediaRef) ([]byte, error)
}
