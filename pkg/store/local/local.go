package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	storetypes "wabridge/pkg/store/types"
)

const (
	topicsFile   = "telegram_topics.json"
	specialFile  = "special_topics.json"
	profilesFile = "profile_pictures.json"
	usersFile    = "users.json"
	messagesFile = "messages.json"
)

// Store keeps every table as one JSON document under a directory. The whole
// state is held in memory and written through on each change.
type Store struct {
	dir string

	mu       sync.Mutex
	topics   map[string]storetypes.TopicMapping
	special  map[storetypes.SpecialKind]int
	profiles map[string]storetypes.ProfileSnapshot
	users    map[string]storetypes.User
	// messages keeps only the newest maxMessages rows.
	messages    []storetypes.MessageRecord
	maxMessages int
}

// Open loads the documents under dir, creating the directory when missing.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("local store directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	s := &Store{
		dir:      dir,
		topics:   make(map[string]storetypes.TopicMapping),
		special:  make(map[storetypes.SpecialKind]int),
		profiles: make(map[string]storetypes.ProfileSnapshot),
		users:    make(map[string]storetypes.User),

		maxMessages: storetypes.MaxLocalMessages,
	}

	if err := s.load(topicsFile, &s.topics); err != nil {
		return nil, err
	}
	if err := s.load(specialFile, &s.special); err != nil {
		return nil, err
	}
	if err := s.load(profilesFile, &s.profiles); err != nil {
		return nil, err
	}
	if err := s.load(usersFile, &s.users); err != nil {
		return nil, err
	}
	if err := s.load(messagesFile, &s.messages); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) SaveTopicMapping(_ context.Context, mapping storetypes.TopicMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topics[mapping.ConversationID] = mapping
	return s.flush(topicsFile, s.topics)
}

func (s *Store) TopicMappings(_ context.Context) ([]storetypes.TopicMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mappings := make([]storetypes.TopicMapping, 0, len(s.topics))
	for _, mapping := range s.topics {
		mappings = append(mappings, mapping)
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].ConversationID < mappings[j].ConversationID
	})
	return mappings, nil
}

func (s *Store) SaveSpecialTopic(_ context.Context, kind storetypes.SpecialKind, topicID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.special[kind] = topicID
	return s.flush(specialFile, s.special)
}

func (s *Store) SpecialTopics(_ context.Context) (storetypes.SpecialTopics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make(storetypes.SpecialTopics, len(s.special))
	for kind, id := range s.special {
		topics[kind] = id
	}
	return topics, nil
}

func (s *Store) SaveProfileSnapshot(_ context.Context, snapshot storetypes.ProfileSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[snapshot.SubjectID] = snapshot
	return s.flush(profilesFile, s.profiles)
}

func (s *Store) ProfileSnapshot(_ context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, ok := s.profiles[subjectID]
	return snapshot, ok, nil
}

func (s *Store) SaveUser(_ context.Context, user storetypes.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.SourceID] = user
	return s.flush(usersFile, s.users)
}

func (s *Store) AppendMessage(_ context.Context, record storetypes.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, record)
	if over := len(s.messages) - s.maxMessages; over > 0 {
		s.messages = append(s.messages[:0:0], s.messages[over:]...)
	}
	return s.flush(messagesFile, s.messages)
}

func (s *Store) Stats(_ context.Context) (storetypes.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return storetypes.Stats{
		Topics:    len(s.topics),
		Special:   len(s.special),
		Snapshots: len(s.profiles),
		Users:     len(s.users),
		Messages:  len(s.messages),
	}, nil
}

func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("stat store directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("store path %s is not a directory", s.dir)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}

func (s *Store) load(name string, into any) error {
	content, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if len(content) == 0 {
		return nil
	}

	if err := json.Unmarshal(content, into); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// flush replaces the document atomically via a temp file in the same directory.
func (s *Store) flush(name string, value any) error {
	content, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
