package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wabridge/pkg/channel"
	"wabridge/pkg/config"
	"wabridge/pkg/logger"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/sync/errgroup"
)

const (
	channelName         = "telegram"
	messagePreviewLimit = 240
	maxConcurrentEvents = 8
	maxDownloadBytes    = 50 << 20
	downloadTimeout     = 2 * time.Minute
)

// Adapter is the Telegram side of the bridge. It drives one forum supergroup
// through the Bot API and feeds topic messages into the router.
type Adapter struct {
	cfg       config.TelegramConfig
	bot       *telego.Bot
	chat      telego.ChatID
	allowFrom map[string]struct{}
	http      *http.Client
	log       *slog.Logger
}

// NewAdapter validates Telegram configuration and constructs the bot client.
func NewAdapter(cfg config.TelegramConfig, log *slog.Logger) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}

	return &Adapter{
		cfg:       cfg,
		bot:       bot,
		chat:      tu.ID(cfg.ChatID),
		allowFrom: allowFromSet(cfg.AllowFrom),
		http:      &http.Client{Timeout: downloadTimeout},
		log:       logger.OrDiscard(log).With("component", "channel.telegram"),
	}, nil
}

// Name returns the channel identifier used in logs and health output.
func (a *Adapter) Name() string {
	return channelName
}

// Run long-polls updates and dispatches accepted topic messages concurrently
// until ctx ends. Handler errors are logged and never stop the loop.
func (a *Adapter) Run(ctx context.Context, handlers channel.Handlers) error {
	if handlers.Destination == nil {
		return errors.New("destination handler is required")
	}

	updates, err := a.bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}

	a.log.Info("Telegram channel started", "chat_id", a.cfg.ChatID)

	var group errgroup.Group
	group.SetLimit(maxConcurrentEvents)
	defer func() { _ = group.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				if err := ctx.Err(); err != nil {
					return nil
				}
				return errors.New("telegram updates channel closed")
			}

			msg, ok := a.accept(update.Message)
			if !ok {
				continue
			}

			a.log.Info("Received topic message", "topic_id", msg.TopicID, "message_id", msg.MessageID,
				"sender_id", msg.SenderID, "content", previewText(msg.Body()))

			group.Go(func() error {
				if err := handlers.Destination(ctx, msg); err != nil {
					a.log.Error("Failed to relay telegram message", "topic_id", msg.TopicID, "message_id", msg.MessageID, "error", err)
				}
				return nil
			})
		}
	}
}

// accept filters updates down to user messages inside a topic of the bridge chat.
func (a *Adapter) accept(message *telego.Message) (channel.DestinationMessage, bool) {
	if message == nil {
		return channel.DestinationMessage{}, false
	}
	if message.Chat.ID != a.cfg.ChatID {
		a.log.Debug("Ignoring message from other chat", "chat_id", message.Chat.ID)
		return channel.DestinationMessage{}, false
	}
	if message.From == nil || message.From.IsBot {
		return channel.DestinationMessage{}, false
	}
	if strings.HasPrefix(strings.TrimSpace(message.Text), "/") {
		a.log.Debug("Ignoring command", "content", previewText(message.Text))
		return channel.DestinationMessage{}, false
	}

	senderID := strconv.FormatInt(message.From.ID, 10)
	if !a.senderAllowed(senderID) {
		a.log.Debug("Ignoring message from unauthorized sender", "sender_id", senderID)
		return channel.DestinationMessage{}, false
	}

	msg := toDestinationMessage(message)
	if msg.TopicID == 0 {
		return channel.DestinationMessage{}, false
	}
	return msg, true
}

// toDestinationMessage converts a Telegram message into the bridge form.
func toDestinationMessage(message *telego.Message) channel.DestinationMessage {
	msg := channel.DestinationMessage{
		MessageID: message.MessageID,
		Text:      message.Text,
		Caption:   message.Caption,
	}
	if message.From != nil {
		msg.SenderID = message.From.ID
	}
	if message.IsTopicMessage {
		msg.TopicID = message.MessageThreadID
	}

	// Every topic message implicitly replies to the topic's root message.
	if reply := message.ReplyToMessage; reply != nil && reply.MessageID != message.MessageThreadID {
		msg.ReplyToID = reply.MessageID
		msg.ReplyText = reply.Text
		if msg.ReplyText == "" {
			msg.ReplyText = reply.Caption
		}
	}

	switch {
	case message.Contact != nil:
		name := strings.TrimSpace(message.Contact.FirstName + " " + message.Contact.LastName)
		msg.Contact = &channel.SharedContact{DisplayName: name, Phone: message.Contact.PhoneNumber}
	case message.Venue != nil:
		msg.Location = &channel.Location{
			Latitude:  message.Venue.Location.Latitude,
			Longitude: message.Venue.Location.Longitude,
			Name:      message.Venue.Title,
			Address:   message.Venue.Address,
		}
	case message.Location != nil:
		msg.Location = &channel.Location{Latitude: message.Location.Latitude, Longitude: message.Location.Longitude}
	default:
		msg.Media = mediaRef(message)
	}
	return msg
}

func mediaRef(message *telego.Message) *channel.MediaRef {
	switch {
	case len(message.Photo) > 0:
		largest := message.Photo[0]
		for _, size := range message.Photo[1:] {
			if size.Width*size.Height > largest.Width*largest.Height {
				largest = size
			}
		}
		return &channel.MediaRef{Ref: largest.FileID, Kind: channel.MediaImage, MimeType: "image/jpeg"}
	case message.Sticker != nil:
		ref := &channel.MediaRef{Ref: message.Sticker.FileID, Kind: channel.MediaSticker, MimeType: "image/webp"}
		switch {
		case message.Sticker.IsAnimated:
			ref.MimeType, ref.Animated = "application/x-tgsticker", true
		case message.Sticker.IsVideo:
			ref.MimeType, ref.Animated = "video/webm", true
		}
		if message.Sticker.Thumbnail != nil {
			ref.Fallback = message.Sticker.Thumbnail.FileID
		}
		return ref
	case message.Animation != nil:
		return &channel.MediaRef{Ref: message.Animation.FileID, Kind: channel.MediaAnimation, MimeType: message.Animation.MimeType, FileName: message.Animation.FileName}
	case message.VideoNote != nil:
		return &channel.MediaRef{Ref: message.VideoNote.FileID, Kind: channel.MediaVideoNote, MimeType: "video/mp4"}
	case message.Video != nil:
		return &channel.MediaRef{Ref: message.Video.FileID, Kind: channel.MediaVideo, MimeType: message.Video.MimeType, FileName: message.Video.FileName}
	case message.Voice != nil:
		return &channel.MediaRef{Ref: message.Voice.FileID, Kind: channel.MediaVoice, MimeType: message.Voice.MimeType}
	case message.Audio != nil:
		return &channel.MediaRef{Ref: message.Audio.FileID, Kind: channel.MediaAudio, MimeType: message.Audio.MimeType, FileName: message.Audio.FileName}
	case message.Document != nil:
		return &channel.MediaRef{Ref: message.Document.FileID, Kind: channel.MediaDocument, MimeType: message.Document.MimeType, FileName: message.Document.FileName}
	default:
		return nil
	}
}

// senderAllowed checks whether a sender is permitted by allow_from config.
//
// When no allow list is configured, all senders are accepted.
func (a *Adapter) senderAllowed(senderID string) bool {
	if len(a.allowFrom) == 0 {
		return true
	}

	_, ok := a.allowFrom[strings.TrimSpace(senderID)]
	return ok
}

// allowFromSet normalizes allow_from values into a lookup set.
func allowFromSet(allowFrom []string) map[string]struct{} {
	if len(allowFrom) == 0 {
		return nil
	}

	allowed := make(map[string]struct{}, len(allowFrom))
	for _, value := range allowFrom {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		allowed[trimmed] = struct{}{}
	}

	if len(allowed) == 0 {
		return nil
	}

	return allowed
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}

// DownloadFile fetches a Telegram file by id.
func (a *Adapter) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := a.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, classify("get file", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.bot.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, channel.NewError(channel.ErrorUnavailable, "download file", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, channel.NewError(channel.ErrorRejected, "download file", fmt.Errorf("status %s", resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, channel.NewError(channel.ErrorRejected, "download file", errors.New("file too large"))
	}
	return data, nil
}
