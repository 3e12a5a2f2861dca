package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	envConfigPath        = "WABRIDGE_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramChatID    = "TELEGRAM_CHAT_ID"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envNATSURL           = "WABRIDGE_NATS_URL"
	envDatabaseType      = "WABRIDGE_DATABASE_TYPE"
	envDatabaseURL       = "WABRIDGE_DATABASE_URL"
)

// Database backend identifiers accepted by database.type.
const (
	DatabaseLocal    = "local"
	DatabaseSQLite   = "sqlite"
	DatabaseMongoDB  = "mongodb"
	DatabaseDynamoDB = "dynamodb"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	Database    DatabaseConfig    `json:"database"`
	Correlation CorrelationConfig `json:"correlation"`
	Profiles    ProfilesConfig    `json:"profiles"`
	Gateway     GatewayConfig     `json:"gateway"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// TelegramConfig configures the destination forum supergroup.
type TelegramConfig struct {
	Token              string   `json:"token"`
	ChatID             int64    `json:"chat_id"`
	AllowFrom          []string `json:"allow_from"`
	ForwardMedia       bool     `json:"forward_media"`
	CreateTopics       bool     `json:"create_topics"`
	ConfirmationMode   string   `json:"confirmation_mode"`
	SendProfilePicture bool     `json:"send_profile_picture"`
	SendInfoCard       bool     `json:"send_info_card"`
}

// WhatsAppConfig configures the NATS link to the WhatsApp sidecar.
type WhatsAppConfig struct {
	NATSURL               string `json:"nats_url"`
	SubjectPrefix         string `json:"subject_prefix"`
	QueueGroup            string `json:"queue_group"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// DatabaseConfig selects and configures the persistence backend.
type DatabaseConfig struct {
	Type   string `json:"type"`
	Path   string `json:"path"`
	URL    string `json:"url"`
	Name   string `json:"name"`
	Table  string `json:"table"`
	Region string `json:"region"`
}

// CorrelationConfig bounds the in-memory reply correlation cache.
type CorrelationConfig struct {
	MaxEntries int `json:"max_entries"`
	TTLMinutes int `json:"ttl_minutes"`
}

// ProfilesConfig controls the profile picture change monitor.
type ProfilesConfig struct {
	Monitor             bool `json:"monitor"`
	IntervalMinutes     int  `json:"interval_minutes"`
	InitialDelayMinutes int  `json:"initial_delay_minutes"`
	ThrottleMillis      int  `json:"throttle_ms"`
}

// GatewayConfig configures HTTP gateway bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Default returns the configuration used when no file overrides a field.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{
			ForwardMedia:       true,
			CreateTopics:       true,
			ConfirmationMode:   "reaction",
			SendProfilePicture: true,
			SendInfoCard:       true,
		},
		WhatsApp: WhatsAppConfig{
			NATSURL:               "nats://127.0.0.1:4222",
			SubjectPrefix:         "wabridge",
			QueueGroup:            "wabridge",
			RequestTimeoutSeconds: 30,
		},
		Database: DatabaseConfig{
			Type:  DatabaseLocal,
			Path:  "data",
			Name:  "wabridge",
			Table: "wabridge",
		},
		Correlation: CorrelationConfig{
			MaxEntries: 10000,
			TTLMinutes: 24 * 60,
		},
		Profiles: ProfilesConfig{
			Monitor:             true,
			IntervalMinutes:     30,
			InitialDelayMinutes: 5,
			ThrottleMillis:      1000,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 18790,
		},
	}
}

// LoadConfig resolves config.json, unmarshals it over the defaults, and applies environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports configuration that would prevent the bridge from starting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if c.Telegram.ChatID == 0 {
		return errors.New("telegram.chat_id is required")
	}
	if strings.TrimSpace(c.WhatsApp.NATSURL) == "" {
		return errors.New("whatsapp.nats_url is required")
	}

	switch c.Database.Type {
	case DatabaseLocal, DatabaseSQLite:
		if strings.TrimSpace(c.Database.Path) == "" {
			return fmt.Errorf("database.path is required for %s", c.Database.Type)
		}
	case DatabaseMongoDB:
		if strings.TrimSpace(c.Database.URL) == "" {
			return errors.New("database.url is required for mongodb")
		}
	case DatabaseDynamoDB:
		if strings.TrimSpace(c.Database.Table) == "" {
			return errors.New("database.table is required for dynamodb")
		}
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}

	return nil
}

// RequestTimeout returns the per-call deadline for sidecar requests.
func (c WhatsAppConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// TTL returns the correlation entry lifetime.
func (c CorrelationConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// Interval returns the delay between monitor sweeps.
func (c ProfilesConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// InitialDelay returns how long the first sweep is deferred after startup.
func (c ProfilesConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMinutes) * time.Minute
}

// Throttle returns the pause between two subjects of one sweep.
func (c ProfilesConfig) Throttle() time.Duration {
	return time.Duration(c.ThrottleMillis) * time.Millisecond
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Telegram.Token = token
	}

	if rawChatID := strings.TrimSpace(os.Getenv(envTelegramChatID)); rawChatID != "" {
		chatID, err := strconv.ParseInt(rawChatID, 10, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envTelegramChatID, err)
		}
		cfg.Telegram.ChatID = chatID
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if natsURL := strings.TrimSpace(os.Getenv(envNATSURL)); natsURL != "" {
		cfg.WhatsApp.NATSURL = natsURL
	}

	if dbType := strings.TrimSpace(os.Getenv(envDatabaseType)); dbType != "" {
		cfg.Database.Type = strings.ToLower(dbType)
	}

	if dbURL := strings.TrimSpace(os.Getenv(envDatabaseURL)); dbURL != "" {
		cfg.Database.URL = dbURL
	}

	return nil
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is WABRIDGE_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file exists and defaults apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
