package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"wabridge/pkg/config"
	"wabridge/pkg/datadir"
	"wabridge/pkg/logger"
	"wabridge/pkg/store/dynamo"
	"wabridge/pkg/store/local"
	"wabridge/pkg/store/mongo"
	"wabridge/pkg/store/sqlite"
	storetypes "wabridge/pkg/store/types"
)

const sqliteFileName = "wabridge.db"

// ErrPersistence marks every failure that crossed the persistence boundary.
var ErrPersistence = errors.New("persistence error")

// Store is the uniform CRUD surface over the bridge tables. Upserts are
// atomic per key and last-write-wins.
type Store interface {
	SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error
	TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error)
	SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error
	SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error)
	SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error
	// ProfileSnapshot reports false when the subject has never been observed.
	ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error)
	SaveUser(ctx context.Context, user storetypes.User) error
	AppendMessage(ctx context.Context, record storetypes.MessageRecord) error
	Stats(ctx context.Context) (storetypes.Stats, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open constructs the backend selected by cfg.Type.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (Store, error) {
	log = logger.OrDiscard(log)

	var (
		backend Store
		err     error
	)

	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case config.DatabaseLocal, "":
		var dir string
		if dir, err = datadir.Resolve(cfg.Path); err == nil {
			backend, err = local.Open(dir)
		}
	case config.DatabaseSQLite:
		var path string
		if path, err = datadir.File(cfg.Path, sqliteFileName); err == nil {
			backend, err = sqlite.Open(path, log)
		}
	case config.DatabaseMongoDB:
		backend, err = mongo.Open(ctx, cfg.URL, cfg.Name, log)
	case config.DatabaseDynamoDB:
		backend, err = dynamo.Open(ctx, dynamo.Options{
			Table:    cfg.Table,
			Region:   cfg.Region,
			Endpoint: cfg.URL,
		}, log)
	default:
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s store: %w", ErrPersistence, cfg.Type, err)
	}

	log.Info("Store opened", "component", "store", "type", cfg.Type)
	return Guard(backend), nil
}

// Guard wraps every error returned by s with ErrPersistence.
func Guard(s Store) Store {
	if _, ok := s.(guarded); ok {
		return s
	}
	return guarded{inner: s}
}

type guarded struct {
	inner Store
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

func (g guarded) SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error {
	return wrap("save topic mapping", g.inner.SaveTopicMapping(ctx, mapping))
}

func (g guarded) TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error) {
	mappings, err := g.inner.TopicMappings(ctx)
	return mappings, wrap("load topic mappings", err)
}

func (g guarded) SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error {
	if !kind.Valid() {
		return wrap("save special topic", fmt.Errorf("unknown special topic kind %q", kind))
	}
	return wrap("save special topic", g.inner.SaveSpecialTopic(ctx, kind, topicID))
}

func (g guarded) SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error) {
	topics, err := g.inner.SpecialTopics(ctx)
	return topics, wrap("load special topics", err)
}

func (g guarded) SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error {
	return wrap("save profile snapshot", g.inner.SaveProfileSnapshot(ctx, snapshot))
}

func (g guarded) ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error) {
	snapshot, ok, err := g.inner.ProfileSnapshot(ctx, subjectID)
	return snapshot, ok, wrap("load profile snapshot", err)
}

func (g guarded) SaveUser(ctx context.Context, user storetypes.User) error {
	return wrap("save user", g.inner.SaveUser(ctx, user))
}

func (g guarded) AppendMessage(ctx context.Context, record storetypes.MessageRecord) error {
	return wrap("append message", g.inner.AppendMessage(ctx, record))
}

func (g guarded) Stats(ctx context.Context) (storetypes.Stats, error) {
	stats, err := g.inner.Stats(ctx)
	return stats, wrap("count rows", err)
}

func (g guarded) Ping(ctx context.Context) error {
	return wrap("ping", g.inner.Ping(ctx))
}

func (g guarded) Close(ctx context.Context) error {
	return wrap("close", g.inner.Close(ctx))
}
