package local

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"wabridge/pkg/store/storetest"
	storetypes "wabridge/pkg/store/types"
)

func TestLocalStoreBehavior(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		s, err := Open(t.TempDir())
		if err != nil {
			t.Fatalf("Open error: %v", err)
		}
		return s
	})
}

func TestLocalStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "data")

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.SaveTopicMapping(ctx, storetypes.TopicMapping{ConversationID: "155", TopicID: 9, DisplayName: "Bob"}); err != nil {
		t.Fatalf("SaveTopicMapping error: %v", err)
	}
	if err := s.SaveSpecialTopic(ctx, storetypes.SpecialStatus, 3); err != nil {
		t.Fatalf("SaveSpecialTopic error: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}

	mappings, err := reopened.TopicMappings(ctx)
	if err != nil {
		t.Fatalf("TopicMappings error: %v", err)
	}
	if len(mappings) != 1 || mappings[0].TopicID != 9 {
		t.Fatalf("mappings = %+v, want one mapping to topic 9", mappings)
	}

	special, err := reopened.SpecialTopics(ctx)
	if err != nil {
		t.Fatalf("SpecialTopics error: %v", err)
	}
	if special[storetypes.SpecialStatus] != 3 {
		t.Fatalf("status topic = %d, want 3", special[storetypes.SpecialStatus])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir error: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("leftover temp file %s", entry.Name())
		}
	}
}

func TestLocalStoreRejectsCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, topicsFile), []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	if _, err := Open(dir); err == nil {
		t.Fatal("expected error for corrupt topics document")
	}
}

func TestLocalStoreRequiresDirectory(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestLocalMessageLogKeepsNewestRows(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if s.maxMessages != storetypes.MaxLocalMessages {
		t.Fatalf("maxMessages = %d, want %d", s.maxMessages, storetypes.MaxLocalMessages)
	}
	s.maxMessages = 3

	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		if err := s.AppendMessage(ctx, storetypes.MessageRecord{MessageID: id, ConversationID: "155"}); err != nil {
			t.Fatalf("AppendMessage(%s) error: %v", id, err)
		}
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	got := make([]string, 0, len(reopened.messages))
	for _, record := range reopened.messages {
		got = append(got, record.MessageID)
	}
	if want := []string{"m3", "m4", "m5"}; !slices.Equal(got, want) {
		t.Fatalf("messages = %v, want %v", got, want)
	}

	stats, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats error: %v", err)
	}
	if stats.Messages != 3 {
		t.Fatalf("stats.Messages = %d, want 3", stats.Messages)
	}
}
