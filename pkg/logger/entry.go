package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogEntry is one line of the json log format. Routing keys are lifted out of
// fields so collectors can index them directly.
type LogEntry struct {
	Level          string         `json:"level"`
	Timestamp      string         `json:"timestamp"`
	Component      string         `json:"component,omitempty"`
	ConversationID string         `json:"conversation_id,omitempty"`
	TopicID        int64          `json:"topic_id,omitempty"`
	Message        string         `json:"message"`
	Fields         map[string]any `json:"fields,omitempty"`
	Caller         string         `json:"caller,omitempty"`
}

type entryHandler struct {
	level     slog.Level
	addSource bool
	writer    io.Writer
	attrs     []slog.Attr
	groups    []string
	mu        *sync.Mutex
}

func newEntryHandler(writer io.Writer, level slog.Level, addSource bool) *entryHandler {
	return &entryHandler{level: level, addSource: addSource, writer: writer, mu: &sync.Mutex{}}
}

func (h *entryHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *entryHandler) Handle(_ context.Context, record slog.Record) error {
	at := record.Time
	if at.IsZero() {
		at = time.Now()
	}
	entry := LogEntry{
		Level:     strings.ToLower(record.Level.String()),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Message:   record.Message,
	}

	fields := make(map[string]any)
	for _, attr := range h.attrs {
		entry.apply(fields, h.groups, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		entry.apply(fields, h.groups, attr)
		return true
	})
	if len(fields) > 0 {
		entry.Fields = fields
	}

	if h.addSource && record.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{record.PC}).Next()
		if frame.File != "" {
			entry.Caller = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(append(line, '\n'))
	return err
}

// apply lifts routing keys onto the entry and stores everything else in fields.
func (e *LogEntry) apply(fields map[string]any, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}

	if len(groups) == 0 {
		switch attr.Key {
		case "component":
			if attr.Value.Kind() == slog.KindString {
				e.Component = attr.Value.String()
				return
			}
		case "conversation_id":
			if attr.Value.Kind() == slog.KindString {
				e.ConversationID = attr.Value.String()
				return
			}
		case "topic_id":
			if attr.Value.Kind() == slog.KindInt64 {
				e.TopicID = attr.Value.Int64()
				return
			}
		}
	}

	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + attr.Key
	}
	fields[key] = plainValue(attr.Value)
}

func plainValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindString:
		return value.String()
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().UTC().Format(time.RFC3339Nano)
	case slog.KindGroup:
		group := value.Group()
		nested := make(map[string]any, len(group))
		for _, item := range group {
			nested[item.Key] = plainValue(item.Value.Resolve())
		}
		return nested
	case slog.KindAny:
		if err, ok := value.Any().(error); ok {
			return err.Error()
		}
		return value.Any()
	default:
		return value.String()
	}
}

func (h *entryHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

func (h *entryHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}
