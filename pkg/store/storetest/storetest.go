// Package storetest holds the behavior every persistence backend must share.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	storetypes "wabridge/pkg/store/types"

	"github.com/stretchr/testify/require"
)

// Backend mirrors the persistence surface without importing the factory package.
type Backend interface {
	SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error
	TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error)
	SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error
	SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error)
	SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error
	ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error)
	SaveUser(ctx context.Context, user storetypes.User) error
	AppendMessage(ctx context.Context, record storetypes.MessageRecord) error
	Stats(ctx context.Context) (storetypes.Stats, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Run exercises a fresh backend returned by open.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Helper()

	t.Run("TopicMappingUpsert", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{
			ConversationID: "15551234567", TopicID: 10, DisplayName: "Alice", CreatedAt: created,
		}))
		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{
			ConversationID: "group_1203", TopicID: 11, DisplayName: "🏷️ Family", CreatedAt: created,
		}))
		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{
			ConversationID: "15551234567", TopicID: 42, DisplayName: "Alice", CreatedAt: created,
		}))

		mappings, err := s.TopicMappings(ctx)
		require.NoError(t, err)
		require.Len(t, mappings, 2)

		byID := make(map[string]storetypes.TopicMapping, len(mappings))
		for _, mapping := range mappings {
			byID[mapping.ConversationID] = mapping
		}
		require.Equal(t, 42, byID["15551234567"].TopicID)
		require.Equal(t, "🏷️ Family", byID["group_1203"].DisplayName)
		require.True(t, byID["group_1203"].CreatedAt.Equal(created), "created_at = %v, want %v", byID["group_1203"].CreatedAt, created)
	})

	t.Run("SpecialTopics", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		topics, err := s.SpecialTopics(ctx)
		require.NoError(t, err)
		require.Empty(t, topics)

		require.NoError(t, s.SaveSpecialTopic(ctx, storetypes.SpecialStatus, 5))
		require.NoError(t, s.SaveSpecialTopic(ctx, storetypes.SpecialCall, 6))
		require.NoError(t, s.SaveSpecialTopic(ctx, storetypes.SpecialStatus, 7))

		topics, err = s.SpecialTopics(ctx)
		require.NoError(t, err)
		require.Equal(t, storetypes.SpecialTopics{storetypes.SpecialStatus: 7, storetypes.SpecialCall: 6}, topics)
	})

	t.Run("ProfileSnapshots", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		_, ok, err := s.ProfileSnapshot(ctx, "15551234567")
		require.NoError(t, err)
		require.False(t, ok)

		updated := time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC)
		require.NoError(t, s.SaveProfileSnapshot(ctx, storetypes.ProfileSnapshot{
			SubjectID: "15551234567", ImageURL: "https://pps.example/a.jpg", ImageHash: "aa", UpdatedAt: updated,
		}))
		require.NoError(t, s.SaveProfileSnapshot(ctx, storetypes.ProfileSnapshot{
			SubjectID: "15551234567", ImageURL: "https://pps.example/b.jpg", ImageHash: "bb", UpdatedAt: updated,
		}))

		snapshot, ok, err := s.ProfileSnapshot(ctx, "15551234567")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "https://pps.example/b.jpg", snapshot.ImageURL)
		require.Equal(t, "bb", snapshot.ImageHash)
	})

	t.Run("Stats", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{ConversationID: "1", TopicID: 1}))
		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{ConversationID: "2", TopicID: 2}))
		require.NoError(t, s.SaveSpecialTopic(ctx, storetypes.SpecialCall, 3))
		require.NoError(t, s.SaveProfileSnapshot(ctx, storetypes.ProfileSnapshot{SubjectID: "1", ImageHash: "x"}))
		require.NoError(t, s.SaveUser(ctx, storetypes.User{SourceID: "1", Name: "Alice"}))
		require.NoError(t, s.AppendMessage(ctx, storetypes.MessageRecord{MessageID: "A1", ConversationID: "1"}))
		require.NoError(t, s.AppendMessage(ctx, storetypes.MessageRecord{MessageID: "A2", ConversationID: "1"}))

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, storetypes.Stats{Topics: 2, Special: 1, Snapshots: 1, Users: 1, Messages: 2}, stats)
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("UsersUpsertAndMessagesAppend", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		seen := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveUser(ctx, storetypes.User{SourceID: "15551234567", Name: "Alice", Phone: "15551234567", LastSeen: seen}))
		require.NoError(t, s.SaveUser(ctx, storetypes.User{SourceID: "15551234567", Name: "Alice B", Phone: "15551234567", LastSeen: seen.Add(time.Minute)}))
		require.NoError(t, s.SaveUser(ctx, storetypes.User{SourceID: "group_1203", Name: "Family"}))

		// The same source id twice is two log rows.
		for range 2 {
			require.NoError(t, s.AppendMessage(ctx, storetypes.MessageRecord{
				MessageID: "A1", ConversationID: "15551234567", Sender: "15551234567", Content: "hi", Kind: "text", At: seen,
			}))
		}

		stats, err := s.Stats(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, stats.Users)
		require.Equal(t, 2, stats.Messages)
	})

	t.Run("ConcurrentUpsertsSameKey", func(t *testing.T) {
		ctx := context.Background()
		s := open(t)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.SaveTopicMapping(ctx, storetypes.TopicMapping{
					ConversationID: "15551234567",
					TopicID:        100 + i,
					DisplayName:    fmt.Sprintf("writer-%d", i),
				})
				if err != nil {
					t.Errorf("concurrent SaveTopicMapping error: %v", err)
				}
			}()
		}
		wg.Wait()

		mappings, err := s.TopicMappings(ctx)
		require.NoError(t, err)
		require.Len(t, mappings, 1)
		require.GreaterOrEqual(t, mappings[0].TopicID, 100)
		require.Equal(t, fmt.Sprintf("writer-%d", mappings[0].TopicID-100), mappings[0].DisplayName)
	})
}
