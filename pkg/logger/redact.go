package logger

import (
	"context"
	"log/slog"
	"strings"
)

const redactedMask = "[redacted]"

// minSecretLength keeps short config values from masking ordinary words.
const minSecretLength = 8

var sensitiveKeys = map[string]struct{}{
	"token":    {},
	"password": {},
	"secret":   {},
}

// redactor masks configured secrets. Telegram file URLs embed the bot token,
// so download errors would otherwise leak it.
type redactor struct {
	secrets []string
}

func newRedactor(secrets []string) *redactor {
	r := &redactor{}
	for _, secret := range secrets {
		if secret = strings.TrimSpace(secret); len(secret) >= minSecretLength {
			r.secrets = append(r.secrets, secret)
		}
	}
	return r
}

func (r *redactor) text(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, redactedMask)
	}
	return s
}

func (r *redactor) attr(attr slog.Attr) slog.Attr {
	attr.Value = attr.Value.Resolve()
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redactedMask)
	}

	switch attr.Value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, r.text(attr.Value.String()))
	case slog.KindGroup:
		group := attr.Value.Group()
		masked := make([]any, 0, len(group))
		for _, item := range group {
			masked = append(masked, r.attr(item))
		}
		return slog.Group(attr.Key, masked...)
	case slog.KindAny:
		if err, ok := attr.Value.Any().(error); ok {
			return slog.String(attr.Key, r.text(err.Error()))
		}
	}
	return attr
}

// redactingHandler rewrites records before they reach the output handler.
type redactingHandler struct {
	next slog.Handler
	r    *redactor
}

func (h *redactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, h.r.text(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(h.r.attr(attr))
		return true
	})
	return h.next.Handle(ctx, masked)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	masked := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		masked = append(masked, h.r.attr(attr))
	}
	return &redactingHandler{next: h.next.WithAttrs(masked), r: h.r}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{next: h.next.WithGroup(name), r: h.r}
}
