package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"wabridge/pkg/channel"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
)

// CreateTopic opens a new forum topic and returns its thread id.
func (a *Adapter) CreateTopic(ctx context.Context, name string, iconColor int) (int, error) {
	topic, err := a.bot.CreateForumTopic(ctx, &telego.CreateForumTopicParams{
		ChatID:    a.chat,
		Name:      name,
		IconColor: iconColor,
	})
	if err != nil {
		return 0, classify("create topic", err)
	}
	return topic.MessageThreadID, nil
}

func (a *Adapter) SendText(ctx context.Context, topicID int, text string, opts channel.SendOptions) (int, error) {
	msg, err := withMarkdown(func(parseMode string) (*telego.Message, error) {
		return a.bot.SendMessage(ctx, &telego.SendMessageParams{
			ChatID:              a.chat,
			MessageThreadID:     topicID,
			Text:                text,
			ParseMode:           parseMode,
			DisableNotification: opts.DisableNotification,
			ReplyParameters:     replyParameters(opts),
			LinkPreviewOptions:  &telego.LinkPreviewOptions{IsDisabled: true},
		})
	})
	if err != nil {
		return 0, classify("send text", err)
	}
	return msg.MessageID, nil
}

// SendMedia uploads bytes or hands Telegram a URL, choosing the send method by media kind.
func (a *Adapter) SendMedia(ctx context.Context, topicID int, media channel.OutboundMedia, opts channel.SendOptions) (int, error) {
	if len(media.Data) == 0 && media.URL == "" {
		return 0, channel.NewError(channel.ErrorRejected, "send media", errors.New("media has neither data nor url"))
	}

	reply := replyParameters(opts)
	msg, err := withMarkdown(func(parseMode string) (*telego.Message, error) {
		file := inputFile(media)
		switch media.Kind {
		case channel.MediaImage:
			return a.bot.SendPhoto(ctx, &telego.SendPhotoParams{
				ChatID: a.chat, MessageThreadID: topicID, Photo: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaVideo:
			return a.bot.SendVideo(ctx, &telego.SendVideoParams{
				ChatID: a.chat, MessageThreadID: topicID, Video: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaVideoNote:
			return a.bot.SendVideoNote(ctx, &telego.SendVideoNoteParams{
				ChatID: a.chat, MessageThreadID: topicID, VideoNote: file,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaAnimation:
			return a.bot.SendAnimation(ctx, &telego.SendAnimationParams{
				ChatID: a.chat, MessageThreadID: topicID, Animation: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaVoice:
			return a.bot.SendVoice(ctx, &telego.SendVoiceParams{
				ChatID: a.chat, MessageThreadID: topicID, Voice: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaAudio:
			return a.bot.SendAudio(ctx, &telego.SendAudioParams{
				ChatID: a.chat, MessageThreadID: topicID, Audio: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		case channel.MediaSticker:
			return a.bot.SendSticker(ctx, &telego.SendStickerParams{
				ChatID: a.chat, MessageThreadID: topicID, Sticker: file,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		default:
			return a.bot.SendDocument(ctx, &telego.SendDocumentParams{
				ChatID: a.chat, MessageThreadID: topicID, Document: file,
				Caption: media.Caption, ParseMode: parseMode,
				DisableNotification: opts.DisableNotification, ReplyParameters: reply,
			})
		}
	})
	if err != nil {
		return 0, classify("send "+string(media.Kind), err)
	}
	return msg.MessageID, nil
}

func (a *Adapter) SendContact(ctx context.Context, topicID int, phone string, name string) (int, error) {
	msg, err := a.bot.SendContact(ctx, &telego.SendContactParams{
		ChatID:          a.chat,
		MessageThreadID: topicID,
		PhoneNumber:     phone,
		FirstName:       name,
	})
	if err != nil {
		return 0, classify("send contact", err)
	}
	return msg.MessageID, nil
}

// SendLocation sends a bare map point. Name and address travel as separate text.
func (a *Adapter) SendLocation(ctx context.Context, topicID int, location channel.Location) (int, error) {
	msg, err := a.bot.SendLocation(ctx, &telego.SendLocationParams{
		ChatID:          a.chat,
		MessageThreadID: topicID,
		Latitude:        location.Latitude,
		Longitude:       location.Longitude,
	})
	if err != nil {
		return 0, classify("send location", err)
	}
	return msg.MessageID, nil
}

func (a *Adapter) PinMessage(ctx context.Context, messageID int) error {
	err := a.bot.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:              a.chat,
		MessageID:           messageID,
		DisableNotification: true,
	})
	if err != nil {
		return classify("pin message", err)
	}
	return nil
}

func (a *Adapter) SetReaction(ctx context.Context, messageID int, emoji string) error {
	err := a.bot.SetMessageReaction(ctx, &telego.SetMessageReactionParams{
		ChatID:    a.chat,
		MessageID: messageID,
		Reaction:  []telego.ReactionType{&telego.ReactionTypeEmoji{Type: "emoji", Emoji: emoji}},
	})
	if err != nil {
		return classify("set reaction", err)
	}
	return nil
}

func replyParameters(opts channel.SendOptions) *telego.ReplyParameters {
	if opts.ReplyTo == 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: opts.ReplyTo, AllowSendingWithoutReply: true}
}

// inputFile builds a fresh upload for every attempt since readers are consumed on send.
func inputFile(media channel.OutboundMedia) telego.InputFile {
	if len(media.Data) == 0 {
		return tu.FileFromURL(media.URL)
	}
	return tu.File(tu.NameReader(bytes.NewReader(media.Data), uploadName(media)))
}

func uploadName(media channel.OutboundMedia) string {
	if name := strings.TrimSpace(media.FileName); name != "" {
		return name
	}
	switch media.Kind {
	case channel.MediaImage:
		return "photo.jpg"
	case channel.MediaVideo, channel.MediaVideoNote, channel.MediaAnimation:
		return "video.mp4"
	case channel.MediaVoice:
		return "voice.ogg"
	case channel.MediaAudio:
		return "audio.mp3"
	case channel.MediaSticker:
		return "sticker.webp"
	default:
		return "file.bin"
	}
}

// withMarkdown sends with legacy Markdown and retries as plain text when
// user content breaks entity parsing.
func withMarkdown(send func(parseMode string) (*telego.Message, error)) (*telego.Message, error) {
	msg, err := send(telego.ModeMarkdown)
	if err != nil && strings.Contains(strings.ToLower(errorDescription(err)), "can't parse entities") {
		return send("")
	}
	return msg, err
}

// classify maps a Bot API failure onto a stable channel error kind.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return channel.NewError(channel.ErrorUnavailable, op, err)
	}

	code := 0
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) {
		code = apiErr.ErrorCode
	}
	desc := strings.ToLower(errorDescription(err))

	switch {
	// A deleted reply target is not a deleted topic.
	case strings.Contains(desc, "message to be replied not found"),
		strings.Contains(desc, "replied message not found"):
		return channel.NewError(channel.ErrorRejected, op, err)
	case strings.Contains(desc, "thread not found"),
		strings.Contains(desc, "topic_deleted"),
		strings.Contains(desc, "topic_closed"),
		strings.Contains(desc, "topic_id_invalid"),
		strings.Contains(desc, "topic not found"):
		return channel.NewError(channel.ErrorTopicMissing, op, err)
	case strings.Contains(desc, "duplicate"),
		strings.Contains(desc, "already exists"):
		return channel.NewError(channel.ErrorDuplicateName, op, err)
	case code == 429 || code >= 500:
		return channel.NewError(channel.ErrorUnavailable, op, err)
	case code != 0:
		return channel.NewError(channel.ErrorRejected, op, err)
	default:
		return channel.NewError(channel.ErrorUnavailable, op, fmt.Errorf("transport: %w", err))
	}
}

func errorDescription(err error) string {
	var apiErr *telegoapi.Error
	if errors.As(err, &apiErr) && apiErr.Description != "" {
		return apiErr.Description
	}
	return err.Error()
}

var (
	_ channel.Destination = (*Adapter)(nil)
	_ channel.Adapter     = (*Adapter)(nil)
)
