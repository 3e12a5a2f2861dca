// Package logger builds the process slog.Logger: charm text output for
// terminals, one JSON object per line for collectors.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	charmLog "github.com/charmbracelet/log"

	"wabridge/pkg/config"
)

const (
	formatText = "text"
	formatJSON = "json"

	envLogFormat    = "WABRIDGE_LOG_FORMAT"
	envLogLevel     = "WABRIDGE_LOG_LEVEL"
	envLogAddSource = "WABRIDGE_LOG_ADD_SOURCE"
)

// settings is the logging config after environment overrides.
type settings struct {
	format    string
	level     slog.Level
	addSource bool
}

// New builds the process logger from the logging section of the bridge
// config. Every secret is masked wherever it shows up in a message or a
// string attribute.
func New(cfg config.LoggingConfig, secrets ...string) (*slog.Logger, error) {
	return build(cfg, os.Stderr, secrets)
}

// Discard returns a logger that drops every record. Components fall back to
// it when constructed without a logger in tests and one-shot commands.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns log, or a discarding logger when log is nil.
func OrDiscard(log *slog.Logger) *slog.Logger {
	if log == nil {
		return Discard()
	}
	return log
}

func build(cfg config.LoggingConfig, writer io.Writer, secrets []string) (*slog.Logger, error) {
	s, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	var handler slog.Handler
	switch s.format {
	case formatText:
		handler = charmLog.NewWithOptions(writer, charmLog.Options{
			Level:           charmLevel(s.level),
			ReportTimestamp: true,
			ReportCaller:    s.addSource,
			Formatter:       charmLog.TextFormatter,
		})
	default:
		handler = newEntryHandler(writer, s.level, s.addSource)
	}

	return slog.New(&redactingHandler{next: handler, r: newRedactor(secrets)}), nil
}

func resolve(cfg config.LoggingConfig) (settings, error) {
	format := firstNonEmpty(os.Getenv(envLogFormat), cfg.Format, formatText)
	if format != formatText && format != formatJSON {
		return settings{}, fmt.Errorf("unsupported log format %q", format)
	}

	levelText := firstNonEmpty(os.Getenv(envLogLevel), cfg.Level, "info")
	var level slog.Level
	switch levelText {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return settings{}, fmt.Errorf("unsupported log level %q", levelText)
	}

	addSource := cfg.AddSource
	if env := strings.TrimSpace(os.Getenv(envLogAddSource)); env != "" {
		addSource = parseBool(env)
	}

	return settings{format: format, level: level, addSource: addSource}, nil
}

// firstNonEmpty returns the first value that is not blank, lowercased.
func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return strings.ToLower(trimmed)
		}
	}
	return ""
}

func charmLevel(level slog.Level) charmLog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmLog.DebugLevel
	case level <= slog.LevelInfo:
		return charmLog.InfoLevel
	case level <= slog.LevelWarn:
		return charmLog.WarnLevel
	default:
		return charmLog.ErrorLevel
	}
}

func parseBool(input string) bool {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
