// Package confirm signals the outcome of a Telegram to WhatsApp relay back on
// the Telegram message that triggered it.
package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"wabridge/pkg/channel"
	"wabridge/pkg/logger"
)

// Mode selects how an outcome is shown.
type Mode string

const (
	ModeReaction Mode = "reaction"
	ModeMessage  Mode = "message"
	ModeNone     Mode = "none"
)

const (
	reactionSuccess = "👍"
	reactionFailure = "❌"

	messageSuccess = "✅ Message sent to WhatsApp"
	messageFailure = "❌ Failed to send message to WhatsApp"
)

// ParseMode reports false for values that are not a known mode.
func ParseMode(raw string) (Mode, bool) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeReaction:
		return ModeReaction, true
	case ModeMessage:
		return ModeMessage, true
	case ModeNone:
		return ModeNone, true
	default:
		return ModeReaction, false
	}
}

// Notifier is the part of the destination client confirmations use.
type Notifier interface {
	SendText(ctx context.Context, topicID int, text string, opts channel.SendOptions) (int, error)
	SetReaction(ctx context.Context, messageID int, emoji string) error
}

type Service struct {
	mode     Mode
	notifier Notifier
	log      *slog.Logger
}

// New builds a Service for the configured mode. Unknown modes fall back to reactions.
func New(mode string, notifier Notifier, log *slog.Logger) *Service {
	log = logger.OrDiscard(log).With("component", "bridge.confirm")

	parsed, ok := ParseMode(mode)
	if !ok && strings.TrimSpace(mode) != "" {
		log.Warn("Unknown confirmation mode, using reactions", "mode", mode)
	}

	return &Service{mode: parsed, notifier: notifier, log: log}
}

func (s *Service) Mode() Mode {
	return s.mode
}

// Confirm shows the relay outcome on msg. A failed reaction is logged and
// returned; it never escalates to a reply message.
func (s *Service) Confirm(ctx context.Context, msg channel.DestinationMessage, success bool) error {
	switch s.mode {
	case ModeNone:
		return nil
	case ModeMessage:
		text := messageSuccess
		if !success {
			text = messageFailure
		}
		if _, err := s.notifier.SendText(ctx, msg.TopicID, text, channel.SendOptions{ReplyTo: msg.MessageID}); err != nil {
			s.log.Warn("Confirmation message failed", "message_id", msg.MessageID, "topic_id", msg.TopicID, "error", err)
			return fmt.Errorf("send confirmation message: %w", err)
		}
		return nil
	default:
		emoji := reactionSuccess
		if !success {
			emoji = reactionFailure
		}
		if err := s.notifier.SetReaction(ctx, msg.MessageID, emoji); err != nil {
			s.log.Warn("Confirmation reaction failed", "message_id", msg.MessageID, "emoji", emoji, "error", err)
			return fmt.Errorf("set confirmation reaction: %w", err)
		}
		return nil
	}
}
