package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	storetypes "wabridge/pkg/store/types"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const (
	topicsCollection   = "telegram_topics"
	specialCollection  = "special_topics"
	profilesCollection = "profile_pictures"
	usersCollection    = "users"
	messagesCollection = "messages"

	defaultDatabase = "wabridge"
)

type specialDoc struct {
	TopicType string `bson:"topic_type"`
	TopicID   int    `bson:"topic_id"`
}

// Store persists bridge tables as MongoDB collections keyed by unique indexes.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *slog.Logger
}

// Open connects, pings and ensures the unique indexes exist.
func Open(ctx context.Context, url string, database string, log *slog.Logger) (*Store, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("mongodb url is required")
	}
	if strings.TrimSpace(database) == "" {
		database = defaultDatabase
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	client, err := mongo.Connect(options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	s := &Store{
		client: client,
		db:     client.Database(database),
		log:    log.With("component", "store.mongo"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	s.log.Info("MongoDB store connected", "database", database)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		topicsCollection: {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "topic_id", Value: 1}}},
		},
		specialCollection: {
			{Keys: bson.D{{Key: "topic_type", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		profilesCollection: {
			{Keys: bson.D{{Key: "subject_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		usersCollection: {
			{Keys: bson.D{{Key: "source_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		messagesCollection: {
			{Keys: bson.D{{Key: "message_id", Value: 1}}},
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "at", Value: -1}}},
		},
	}

	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection, err)
		}
	}
	return nil
}

// upsert replaces the fields of the document matching filter, inserting it when absent.
func (s *Store) upsert(ctx context.Context, collection string, filter bson.D, doc any) error {
	_, err := s.db.Collection(collection).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: doc}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", collection, err)
	}
	return nil
}

func (s *Store) SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error {
	return s.upsert(ctx, topicsCollection,
		bson.D{{Key: "conversation_id", Value: mapping.ConversationID}},
		mapping,
	)
}

func (s *Store) TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error) {
	cur, err := s.db.Collection(topicsCollection).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "conversation_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("find topic mappings: %w", err)
	}

	var mappings []storetypes.TopicMapping
	if err := cur.All(ctx, &mappings); err != nil {
		return nil, fmt.Errorf("decode topic mappings: %w", err)
	}
	return mappings, nil
}

func (s *Store) SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error {
	return s.upsert(ctx, specialCollection,
		bson.D{{Key: "topic_type", Value: string(kind)}},
		specialDoc{TopicType: string(kind), TopicID: topicID},
	)
}

func (s *Store) SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error) {
	cur, err := s.db.Collection(specialCollection).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("find special topics: %w", err)
	}

	var docs []specialDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode special topics: %w", err)
	}

	topics := make(storetypes.SpecialTopics, len(docs))
	for _, doc := range docs {
		topics[storetypes.SpecialKind(doc.TopicType)] = doc.TopicID
	}
	return topics, nil
}

func (s *Store) SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error {
	return s.upsert(ctx, profilesCollection,
		bson.D{{Key: "subject_id", Value: snapshot.SubjectID}},
		snapshot,
	)
}

func (s *Store) ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error) {
	var snapshot storetypes.ProfileSnapshot
	err := s.db.Collection(profilesCollection).
		FindOne(ctx, bson.D{{Key: "subject_id", Value: subjectID}}).
		Decode(&snapshot)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return storetypes.ProfileSnapshot{}, false, nil
	}
	if err != nil {
		return storetypes.ProfileSnapshot{}, false, fmt.Errorf("find profile snapshot: %w", err)
	}
	return snapshot, true, nil
}

func (s *Store) SaveUser(ctx context.Context, user storetypes.User) error {
	return s.upsert(ctx, usersCollection,
		bson.D{{Key: "source_id", Value: user.SourceID}},
		user,
	)
}

func (s *Store) AppendMessage(ctx context.Context, record storetypes.MessageRecord) error {
	if _, err := s.db.Collection(messagesCollection).InsertOne(ctx, record); err != nil {
		return fmt.Errorf("insert message %s: %w", record.MessageID, err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context) (storetypes.Stats, error) {
	var stats storetypes.Stats
	counts := []struct {
		collection string
		into       *int
	}{
		{topicsCollection, &stats.Topics},
		{specialCollection, &stats.Special},
		{profilesCollection, &stats.Snapshots},
		{usersCollection, &stats.Users},
		{messagesCollection, &stats.Messages},
	}

	for _, c := range counts {
		n, err := s.db.Collection(c.collection).CountDocuments(ctx, bson.D{})
		if err != nil {
			return storetypes.Stats{}, fmt.Errorf("count %s: %w", c.collection, err)
		}
		*c.into = int(n)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}
	s.log.Info("MongoDB store disconnected")
	return nil
}
