package bridge

import (
	"context"
	"strings"
	"time"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/correlation"
	storetypes "wabridge/pkg/store/types"
	"wabridge/pkg/transcode"
)

// HandleSource relays one WhatsApp event into its Telegram topic.
func (r *Router) HandleSource(ctx context.Context, ev channel.SourceEvent) error {
	if ev.FromMe {
		r.drop(ctx, bus.DirectionInbound, ev.Conversation().ID, "from_me")
		return nil
	}

	switch ev.Kind {
	case channel.EventStatus:
		return r.relayStatus(ctx, ev)
	case channel.EventCall:
		return r.relayCall(ctx, ev)
	default:
		return r.relayMessage(ctx, ev)
	}
}

// download fetches forwardable media. A failed download degrades the event to text.
func (r *Router) download(ctx context.Context, ev channel.SourceEvent) []byte {
	if ev.Media == nil || !r.opts.ForwardMedia {
		return nil
	}

	data, err := r.deps.Source.DownloadMedia(ctx, *ev.Media)
	if err != nil {
		r.log.Warn("Media download failed, relaying text only", "message_id", ev.MessageID, "kind", ev.Media.Kind, "error", err)
		return nil
	}
	return data
}

func (r *Router) relayMessage(ctx context.Context, ev channel.SourceEvent) error {
	conv := ev.Conversation()
	send := r.messageSender(ctx, ev, conv)
	if send == nil {
		r.drop(ctx, bus.DirectionInbound, conv.ID, "empty")
		return nil
	}

	if _, err := r.relayToTopic(ctx, conv, ev.MessageID, send); err != nil {
		return err
	}
	r.journal(ctx, ev, conv)
	return nil
}

// messageSender picks how a WhatsApp message is rendered in its topic. It
// returns nil when there is nothing to relay.
func (r *Router) messageSender(ctx context.Context, ev channel.SourceEvent, conv channel.Conversation) sendFunc {
	group := conv.Kind() == channel.KindGroup
	sender := ev.Sender()

	opts := channel.SendOptions{}
	if ev.QuotedMessageID != "" {
		if replyTo, ok := r.deps.Correlation.ResolveSource(ev.QuotedMessageID); ok {
			opts.ReplyTo = replyTo
		}
	}

	switch {
	case len(ev.Contacts) > 0:
		return func(ctx context.Context, topicID int) (int, error) {
			return r.sendContacts(ctx, topicID, ev.Contacts, group, sender)
		}
	case ev.Location != nil:
		return func(ctx context.Context, topicID int) (int, error) {
			return r.sendLocation(ctx, topicID, *ev.Location, group, sender)
		}
	}

	if data := r.download(ctx, ev); data != nil {
		caption := ev.Text
		if group {
			caption = groupCaption(sender, ev.Text)
		}
		return func(ctx context.Context, topicID int) (int, error) {
			return r.sendMedia(ctx, topicID, *ev.Media, data, caption, opts)
		}
	}

	text := ev.Text
	if group {
		text = groupText(sender, ev.Text, ev.Media != nil)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return func(ctx context.Context, topicID int) (int, error) {
		return r.deps.Destination.SendText(ctx, topicID, text, opts)
	}
}

// journal records the conversation and the relayed message. Failures only
// cost the audit row, never the relay.
func (r *Router) journal(ctx context.Context, ev channel.SourceEvent, conv channel.Conversation) {
	if r.deps.Journal == nil {
		return
	}

	at := r.opts.Now().UTC()
	if ev.Timestamp > 0 {
		at = time.UnixMilli(ev.Timestamp).UTC()
	}

	user := storetypes.User{SourceID: conv.ID, Name: conv.Name, LastSeen: at}
	if conv.Kind() == channel.KindGroup {
		user.Name = strings.TrimSpace(ev.ChatName)
	} else {
		user.Phone = conv.ID
	}
	if err := r.deps.Journal.SaveUser(ctx, user); err != nil {
		r.log.Warn("Failed to save user", "conversation_id", conv.ID, "error", err)
	}

	kind := messageKind(ev)
	content := ev.Text
	if strings.TrimSpace(content) == "" {
		content = "Media message"
	}
	record := storetypes.MessageRecord{
		MessageID:      ev.MessageID,
		ConversationID: conv.ID,
		Sender:         ev.Sender(),
		Content:        content,
		Kind:           kind,
		At:             at,
	}
	if err := r.deps.Journal.AppendMessage(ctx, record); err != nil {
		r.log.Warn("Failed to log message", "conversation_id", conv.ID, "message_id", ev.MessageID, "error", err)
	}
}

func messageKind(ev channel.SourceEvent) string {
	switch {
	case len(ev.Contacts) > 0:
		return "contact"
	case ev.Location != nil:
		return "location"
	case ev.Media != nil:
		return string(ev.Media.Kind)
	default:
		return "text"
	}
}

// sendContacts sends each card as a Telegram contact and returns the id of the first.
func (r *Router) sendContacts(ctx context.Context, topicID int, contacts []channel.SharedContact, group bool, sender string) (int, error) {
	first := 0
	sent := 0

	for _, contact := range contacts {
		phone := contact.Phone
		if phone == "" {
			phone = phoneFromVCard(contact.VCard)
		}

		var (
			id  int
			err error
		)
		if phone != "" {
			name := contact.DisplayName
			if name == "" {
				name = "Unknown Contact"
			}
			id, err = r.deps.Destination.SendContact(ctx, topicID, phone, name)
		} else {
			text := contactFallbackText(contact.DisplayName)
			if group {
				text = senderPrefix(sender) + ": " + text
			}
			id, err = r.deps.Destination.SendText(ctx, topicID, text, channel.SendOptions{})
		}
		if err != nil {
			return 0, err
		}
		if first == 0 {
			first = id
		}
		if phone != "" {
			sent++
		}
	}

	if group && sent > 0 {
		if _, err := r.deps.Destination.SendText(ctx, topicID, contactsSummary(sender, sent), channel.SendOptions{}); err != nil {
			return 0, err
		}
	}
	return first, nil
}

func (r *Router) sendLocation(ctx context.Context, topicID int, loc channel.Location, group bool, sender string) (int, error) {
	id, err := r.deps.Destination.SendLocation(ctx, topicID, loc)
	if err != nil {
		return 0, err
	}

	info := locationText(loc)
	switch {
	case group && info != "":
		info = senderPrefix(sender) + ": " + info
	case group:
		info = senderPrefix(sender) + " shared a location"
	}
	if info != "" {
		if _, err := r.deps.Destination.SendText(ctx, topicID, info, channel.SendOptions{}); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *Router) sendMedia(ctx context.Context, topicID int, ref channel.MediaRef, data []byte, caption string, opts channel.SendOptions) (int, error) {
	if ref.Kind == channel.MediaSticker {
		return r.sendSticker(ctx, topicID, ref, data, caption, opts)
	}

	media := channel.OutboundMedia{
		Kind:     ref.Kind,
		Data:     data,
		MimeType: ref.MimeType,
		FileName: ref.FileName,
		Caption:  caption,
	}
	switch {
	case ref.Kind == channel.MediaImage && ref.MimeType == "image/gif":
		media.Kind = channel.MediaAnimation
	case ref.Kind == channel.MediaDocument:
		media.FileName = fileName(ref.FileName, "document", ref.MimeType, r.opts.Now().UnixMilli())
	}

	return r.deps.Destination.SendMedia(ctx, topicID, media, opts)
}

// sendSticker sends animated stickers as MP4 animations and static ones as
// stickers. Any failure other than a missing topic falls back to a photo.
func (r *Router) sendSticker(ctx context.Context, topicID int, ref channel.MediaRef, data []byte, caption string, opts channel.SendOptions) (int, error) {
	var (
		id  int
		err error
	)

	if ref.Animated {
		id, err = r.sendAnimatedSticker(ctx, topicID, data, caption, opts)
	} else {
		id, err = r.deps.Destination.SendMedia(ctx, topicID, channel.OutboundMedia{
			Kind:     channel.MediaSticker,
			Data:     data,
			MimeType: "image/webp",
			FileName: "sticker.webp",
		}, opts)
	}
	if err == nil || channel.IsTopicMissing(err) {
		return id, err
	}

	r.log.Debug("Sticker send failed, sending as image", "error", err)
	fallback := caption
	if fallback == "" {
		fallback = stickerFallbackCaption
	}
	image, mime := data, "image/webp"
	if r.deps.Transcoder != nil {
		if png, terr := r.deps.Transcoder.Transcode(ctx, data, transcode.FormatWebP, transcode.FormatPNG); terr == nil {
			image, mime = png, "image/png"
		}
	}
	return r.deps.Destination.SendMedia(ctx, topicID, channel.OutboundMedia{
		Kind:     channel.MediaImage,
		Data:     image,
		MimeType: mime,
		Caption:  fallback,
	}, opts)
}

func (r *Router) sendAnimatedSticker(ctx context.Context, topicID int, data []byte, caption string, opts channel.SendOptions) (int, error) {
	if r.deps.Transcoder == nil {
		return 0, transcode.ErrTranscodeFailed
	}

	mp4, err := r.deps.Transcoder.Transcode(ctx, data, transcode.FormatWebP, transcode.FormatMP4)
	if err != nil {
		return 0, err
	}
	return r.deps.Destination.SendMedia(ctx, topicID, channel.OutboundMedia{
		Kind:        channel.MediaAnimation,
		Data:        mp4,
		MimeType:    "video/mp4",
		FileName:    "sticker.mp4",
		Caption:     caption,
		GIFPlayback: true,
	}, opts)
}

// relayStatus forwards status posts that carry a caption or media. The
// destination message is remembered so a reply becomes a reaction.
func (r *Router) relayStatus(ctx context.Context, ev channel.SourceEvent) error {
	conv := ev.Conversation()
	number := channel.NormalizeNumber(ev.SenderID)
	if number == "" {
		number = channel.NormalizeNumber(ev.ChatID)
	}
	name := strings.TrimSpace(ev.SenderName)
	if name == "" {
		name = number
	}

	data := r.download(ctx, ev)
	if data == nil && strings.TrimSpace(ev.Text) == "" {
		r.drop(ctx, bus.DirectionInbound, conv.ID, "status_without_content")
		return nil
	}

	timestamp := ev.Timestamp
	if timestamp == 0 {
		timestamp = r.opts.Now().UnixMilli()
	}
	caption := statusHeader(name, ev.Text)

	messageID, err := r.relayToTopic(ctx, conv, "", func(ctx context.Context, topicID int) (int, error) {
		if data == nil {
			return r.deps.Destination.SendText(ctx, topicID, caption, channel.SendOptions{})
		}

		media := channel.OutboundMedia{Data: data, MimeType: ev.Media.MimeType, Caption: caption}
		switch ev.Media.Kind {
		case channel.MediaImage, channel.MediaVideo:
			media.Kind = ev.Media.Kind
		default:
			media.Kind = channel.MediaDocument
			media.FileName = fileName(ev.Media.FileName, "status", ev.Media.MimeType, timestamp)
		}
		return r.deps.Destination.SendMedia(ctx, topicID, media, channel.SendOptions{})
	})
	if err != nil {
		return err
	}

	r.deps.Correlation.RecordStatus(messageID, correlation.StatusRef{
		Sender:    number,
		Timestamp: timestamp,
		MessageID: ev.MessageID,
	})
	return nil
}

func (r *Router) relayCall(ctx context.Context, ev channel.SourceEvent) error {
	conv := ev.Conversation()
	number := channel.NormalizeNumber(ev.SenderID)
	if number == "" {
		number = channel.NormalizeNumber(ev.ChatID)
	}
	name := strings.TrimSpace(ev.SenderName)
	if name == "" {
		name = number
	}

	var info channel.CallInfo
	if ev.Call != nil {
		info = *ev.Call
	}
	text := callText(info, name, number)

	_, err := r.relayToTopic(ctx, conv, "", func(ctx context.Context, topicID int) (int, error) {
		return r.deps.Destination.SendText(ctx, topicID, text, channel.SendOptions{})
	})
	return err
}
