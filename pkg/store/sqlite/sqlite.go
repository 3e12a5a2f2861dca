package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	storetypes "wabridge/pkg/store/types"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

const poolSize = 4

const schema = `
CREATE TABLE IF NOT EXISTS telegram_topics (
	conversation_id TEXT PRIMARY KEY,
	topic_id        INTEGER NOT NULL,
	display_name    TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS telegram_topics_topic_id ON telegram_topics (topic_id);
CREATE TABLE IF NOT EXISTS special_topics (
	topic_type TEXT PRIMARY KEY,
	topic_id   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profile_pictures (
	subject_id TEXT PRIMARY KEY,
	image_url  TEXT NOT NULL,
	image_hash TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS users (
	source_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	phone     TEXT NOT NULL DEFAULT '',
	last_seen INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	message_id      TEXT NOT NULL,
	conversation_id TEXT NOT NULL,
	sender          TEXT NOT NULL DEFAULT '',
	content         TEXT NOT NULL DEFAULT '',
	kind            TEXT NOT NULL DEFAULT '',
	at              INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_conversation_at ON messages (conversation_id, at);
`

// Store persists bridge tables in a SQLite file through a connection pool.
type Store struct {
	pool *sqlitex.Pool
	path string
	log  *slog.Logger
}

// Open creates the database file if needed and applies the schema on every connection.
func Open(path string, log *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	log = log.With("component", "store.sqlite")
	log.Info("SQLite pool opened", "path", path, "pool_size", poolSize)

	return &Store{pool: pool, path: path, log: log}, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withConn borrows a connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return fn(conn)
}

func (s *Store) SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO telegram_topics (conversation_id, topic_id, display_name, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (conversation_id) DO UPDATE SET
				topic_id = excluded.topic_id,
				display_name = excluded.display_name,
				created_at = excluded.created_at`,
			&sqlitex.ExecOptions{
				Args: []any{mapping.ConversationID, mapping.TopicID, mapping.DisplayName, mapping.CreatedAt.UnixMilli()},
			})
	})
}

func (s *Store) TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error) {
	var mappings []storetypes.TopicMapping
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT conversation_id, topic_id, display_name, created_at
			FROM telegram_topics
			ORDER BY conversation_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					mappings = append(mappings, storetypes.TopicMapping{
						ConversationID: stmt.ColumnText(0),
						TopicID:        stmt.ColumnInt(1),
						DisplayName:    stmt.ColumnText(2),
						CreatedAt:      time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
					})
					return nil
				},
			})
	})
	return mappings, err
}

func (s *Store) SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO special_topics (topic_type, topic_id) VALUES (?, ?)
			ON CONFLICT (topic_type) DO UPDATE SET topic_id = excluded.topic_id`,
			&sqlitex.ExecOptions{Args: []any{string(kind), topicID}})
	})
}

func (s *Store) SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error) {
	topics := make(storetypes.SpecialTopics)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT topic_type, topic_id FROM special_topics`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					topics[storetypes.SpecialKind(stmt.ColumnText(0))] = stmt.ColumnInt(1)
					return nil
				},
			})
	})
	return topics, err
}

func (s *Store) SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO profile_pictures (subject_id, image_url, image_hash, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (subject_id) DO UPDATE SET
				image_url = excluded.image_url,
				image_hash = excluded.image_hash,
				updated_at = excluded.updated_at`,
			&sqlitex.ExecOptions{
				Args: []any{snapshot.SubjectID, snapshot.ImageURL, snapshot.ImageHash, snapshot.UpdatedAt.UnixMilli()},
			})
	})
}

func (s *Store) ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error) {
	var (
		snapshot storetypes.ProfileSnapshot
		found    bool
	)
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT subject_id, image_url, image_hash, updated_at
			FROM profile_pictures WHERE subject_id = ?`,
			&sqlitex.ExecOptions{
				Args: []any{subjectID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					found = true
					snapshot = storetypes.ProfileSnapshot{
						SubjectID: stmt.ColumnText(0),
						ImageURL:  stmt.ColumnText(1),
						ImageHash: stmt.ColumnText(2),
						UpdatedAt: time.UnixMilli(stmt.ColumnInt64(3)).UTC(),
					}
					return nil
				},
			})
	})
	return snapshot, found, err
}

func (s *Store) SaveUser(ctx context.Context, user storetypes.User) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO users (source_id, name, phone, last_seen)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (source_id) DO UPDATE SET
				name = excluded.name,
				phone = excluded.phone,
				last_seen = excluded.last_seen`,
			&sqlitex.ExecOptions{
				Args: []any{user.SourceID, user.Name, user.Phone, user.LastSeen.UnixMilli()},
			})
	})
}

func (s *Store) AppendMessage(ctx context.Context, record storetypes.MessageRecord) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			INSERT INTO messages (message_id, conversation_id, sender, content, kind, at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			&sqlitex.ExecOptions{
				Args: []any{record.MessageID, record.ConversationID, record.Sender, record.Content, record.Kind, record.At.UnixMilli()},
			})
	})
}

func (s *Store) Stats(ctx context.Context) (storetypes.Stats, error) {
	var stats storetypes.Stats
	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT
				(SELECT COUNT(*) FROM telegram_topics),
				(SELECT COUNT(*) FROM special_topics),
				(SELECT COUNT(*) FROM profile_pictures),
				(SELECT COUNT(*) FROM users),
				(SELECT COUNT(*) FROM messages)`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					stats.Topics = stmt.ColumnInt(0)
					stats.Special = stmt.ColumnInt(1)
					stats.Snapshots = stmt.ColumnInt(2)
					return nil
				},
			})
	})
	return stats, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteTransient(conn, "SELECT 1", nil)
	})
}

func (s *Store) Close(context.Context) error {
	if err := s.pool.Close(); err != nil {
		s.log.Error("SQLite pool close failed", "path", s.path, "error", err)
		return fmt.Errorf("close sqlite %s: %w", s.path, err)
	}
	s.log.Info("SQLite pool closed", "path", s.path)
	return nil
}
