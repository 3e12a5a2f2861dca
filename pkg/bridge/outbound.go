package bridge

import (
	"context"
	"fmt"
	"strings"

	"wabridge/pkg/bus"
	"wabridge/pkg/channel"
	"wabridge/pkg/transcode"
)

// HandleDestination relays one Telegram topic message to its WhatsApp conversation.
func (r *Router) HandleDestination(ctx context.Context, msg channel.DestinationMessage) error {
	if msg.TopicID == 0 {
		return nil
	}

	convID, ok := r.deps.Topics.ResolveConversation(msg.TopicID)
	if !ok {
		r.drop(ctx, bus.DirectionOutbound, "", "unmapped_topic")
		return nil
	}

	switch channel.ClassifyConversation(convID) {
	case channel.KindCall:
		r.drop(ctx, bus.DirectionOutbound, convID, "call_topic_read_only")
		return nil
	case channel.KindStatus:
		return r.reactToStatus(ctx, msg)
	}

	payload, err := r.buildPayload(ctx, msg)
	if err == nil {
		if msg.ReplyToID != 0 {
			if sourceID, ok := r.deps.Correlation.Resolve(msg.ReplyToID); ok {
				quote := msg.ReplyText
				if quote == "" {
					quote = quoteFallbackText
				}
				payload.Quote = &channel.Quote{MessageID: sourceID, Text: quote}
			}
		}

		var sourceID string
		sourceID, err = r.deps.Source.SendMessage(ctx, convID, payload)
		if err == nil && sourceID != "" {
			r.deps.Correlation.Record(msg.MessageID, sourceID)
		}
	}

	r.confirm(ctx, msg, convID, err == nil)
	if err != nil {
		r.log.Warn("Relay to WhatsApp failed", "conversation_id", convID, "topic_id", msg.TopicID, "error", err)
		r.publish(ctx, bus.Event{
			Type:           bus.EventRelayFailed,
			Direction:      bus.DirectionOutbound,
			ConversationID: convID,
			TopicID:        msg.TopicID,
			Error:          err.Error(),
		})
		return fmt.Errorf("%w: %s: %w", ErrRelayFailed, convID, err)
	}

	r.log.Debug("Relayed to WhatsApp", "conversation_id", convID, "topic_id", msg.TopicID)
	r.publish(ctx, bus.Event{
		Type:           bus.EventRelaySucceeded,
		Direction:      bus.DirectionOutbound,
		ConversationID: convID,
		TopicID:        msg.TopicID,
	})
	return nil
}

func (r *Router) confirm(ctx context.Context, msg channel.DestinationMessage, convID string, success bool) {
	if r.deps.Confirm == nil {
		return
	}
	if err := r.deps.Confirm.Confirm(ctx, msg, success); err != nil {
		r.publish(ctx, bus.Event{
			Type:           bus.EventConfirmFailed,
			Direction:      bus.DirectionOutbound,
			ConversationID: convID,
			TopicID:        msg.TopicID,
			Error:          err.Error(),
		})
	}
}

// buildPayload converts a Telegram message into the WhatsApp payload.
func (r *Router) buildPayload(ctx context.Context, msg channel.DestinationMessage) (channel.SourcePayload, error) {
	switch {
	case msg.Contact != nil:
		contact := *msg.Contact
		if contact.VCard == "" {
			contact.VCard = buildVCard(contact.DisplayName, contact.Phone)
		}
		return channel.SourcePayload{Contact: &contact}, nil

	case msg.Location != nil:
		loc := *msg.Location
		return channel.SourcePayload{Location: &loc}, nil

	case msg.Media != nil:
		media, err := r.outboundMedia(ctx, *msg.Media, msg.Caption)
		if err != nil {
			return channel.SourcePayload{}, err
		}
		return channel.SourcePayload{Media: &media}, nil
	}

	text := msg.Body()
	if strings.TrimSpace(text) == "" {
		text = telegramFallbackText
	}
	return channel.SourcePayload{Text: text}, nil
}

func (r *Router) outboundMedia(ctx context.Context, ref channel.MediaRef, caption string) (channel.OutboundMedia, error) {
	data, err := r.deps.Destination.DownloadFile(ctx, ref.Ref)
	if err != nil {
		return channel.OutboundMedia{}, fmt.Errorf("download %s: %w", ref.Kind, err)
	}

	media := channel.OutboundMedia{
		Kind:     ref.Kind,
		Data:     data,
		MimeType: ref.MimeType,
		FileName: ref.FileName,
		Caption:  caption,
	}

	switch ref.Kind {
	case channel.MediaImage:
		media.MimeType = orDefault(ref.MimeType, "image/jpeg")
	case channel.MediaVideo:
		media.MimeType = orDefault(ref.MimeType, "video/mp4")
	case channel.MediaVideoNote:
		media.Kind = channel.MediaVideo
		media.MimeType = "video/mp4"
		media.RoundVideo = true
	case channel.MediaAnimation:
		media.Kind = channel.MediaVideo
		media.MimeType = "video/mp4"
		media.GIFPlayback = true
	case channel.MediaVoice:
		media.Kind = channel.MediaAudio
		media.MimeType = "audio/ogg; codecs=opus"
		media.PushToTalk = true
	case channel.MediaAudio:
		media.MimeType = orDefault(ref.MimeType, "audio/mpeg")
	case channel.MediaDocument:
		media.MimeType = orDefault(ref.MimeType, "application/octet-stream")
		media.FileName = fileName(ref.FileName, "document", media.MimeType, r.opts.Now().UnixMilli())
	case channel.MediaSticker:
		return r.outboundSticker(ctx, ref, data), nil
	}
	return media, nil
}

// outboundSticker converts Telegram stickers to WhatsApp's WebP stickers. When
// conversion is impossible the sticker goes out as a plain image.
func (r *Router) outboundSticker(ctx context.Context, ref channel.MediaRef, data []byte) channel.OutboundMedia {
	from, ok := transcode.FormatFromMime(ref.MimeType)
	if !ok {
		from = transcode.FormatWebP
	}

	if from == transcode.FormatWebP {
		return channel.OutboundMedia{Kind: channel.MediaSticker, Data: data, MimeType: "image/webp"}
	}

	if r.deps.Transcoder != nil {
		webp, err := r.deps.Transcoder.Transcode(ctx, data, from, transcode.FormatWebP)
		if err == nil {
			return channel.OutboundMedia{Kind: channel.MediaSticker, Data: webp, MimeType: "image/webp"}
		}
		r.log.Debug("Sticker conversion failed, sending as image", "from", from, "error", err)
	}

	image, mime := data, ref.MimeType
	if ref.Fallback != "" {
		if thumb, err := r.deps.Destination.DownloadFile(ctx, ref.Fallback); err == nil {
			image, mime = thumb, "image/webp"
		}
	}
	return channel.OutboundMedia{Kind: channel.MediaImage, Data: image, MimeType: mime}
}

// reactToStatus turns a reply in the status topic into a WhatsApp reaction.
func (r *Router) reactToStatus(ctx context.Context, msg channel.DestinationMessage) error {
	if msg.ReplyToID == 0 {
		_, err := r.deps.Destination.SendText(ctx, msg.TopicID, statusReplyHint, channel.SendOptions{ReplyTo: msg.MessageID})
		if err != nil {
			r.log.Debug("Status hint not sent", "error", err)
		}
		r.drop(ctx, bus.DirectionOutbound, channel.StatusConversationID, "status_not_reply")
		return nil
	}

	ref, ok := r.deps.Correlation.ResolveStatus(msg.ReplyToID)
	var err error
	if !ok {
		err = fmt.Errorf("status for message %d not found", msg.ReplyToID)
	} else {
		emoji := firstEmoji(msg.Body())
		if emoji == "" {
			emoji = defaultStatusReaction
		}
		_, err = r.deps.Source.SendMessage(ctx, channel.StatusConversationID, channel.SourcePayload{
			Reaction: &channel.Reaction{
				Emoji:        emoji,
				TargetID:     ref.ReactionTarget(),
				TargetSender: ref.Sender,
			},
		})
	}

	outcome := statusReactionSent
	if err != nil {
		outcome = statusReactionFailed
	}
	if rerr := r.deps.Destination.SetReaction(ctx, msg.MessageID, outcome); rerr != nil {
		r.log.Debug("Status reaction confirmation failed", "error", rerr)
	}

	if err != nil {
		r.log.Warn("Status reaction failed", "reply_to", msg.ReplyToID, "error", err)
		r.publish(ctx, bus.Event{
			Type:           bus.EventRelayFailed,
			Direction:      bus.DirectionOutbound,
			ConversationID: channel.StatusConversationID,
			TopicID:        msg.TopicID,
			Error:          err.Error(),
		})
		return fmt.Errorf("%w: status reaction: %w", ErrRelayFailed, err)
	}

	r.publish(ctx, bus.Event{
		Type:           bus.EventRelaySucceeded,
		Direction:      bus.DirectionOutbound,
		ConversationID: channel.StatusConversationID,
		TopicID:        msg.TopicID,
		Payload:        map[string]string{"reaction": ref.ReactionTarget()},
	})
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
