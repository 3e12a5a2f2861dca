package dynamo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	storetypes "wabridge/pkg/store/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	pkTopic   = "TOPIC#"
	pkSpecial = "SPECIAL#"
	pkProfile = "PROFILE#"
	pkUser    = "USER#"
	pkMessage = "MSG#"
)

// dynamodbAPI is the subset of the DynamoDB client the store calls.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Options selects the table and, for local testing, an endpoint override.
type Options struct {
	Table    string
	Region   string
	Endpoint string
}

// Store keeps all bridge tables in one DynamoDB table keyed by a prefixed PK.
type Store struct {
	api   dynamodbAPI
	table string
	log   *slog.Logger
}

// Open builds a client from the default AWS credential chain and checks the table exists.
func Open(ctx context.Context, opts Options, log *slog.Logger) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})

	s, err := New(client, opts.Table, log)
	if err != nil {
		return nil, err
	}
	if err := s.Ping(ctx); err != nil {
		return nil, err
	}

	s.log.Info("DynamoDB store ready", "table", opts.Table, "region", cfg.Region)
	return s, nil
}

// New wraps an existing client.
func New(api dynamodbAPI, table string, log *slog.Logger) (*Store, error) {
	if api == nil {
		return nil, errors.New("dynamodb api must not be nil")
	}
	if strings.TrimSpace(table) == "" {
		return nil, errors.New("dynamodb table name must not be empty")
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{api: api, table: table, log: log.With("component", "store.dynamodb")}, nil
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func attrString(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func attrInt(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %s missing or not a number", key)
	}
	n, err := strconv.ParseInt(v.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("attribute %s: %w", key, err)
	}
	return n, nil
}

func (s *Store) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", attrString(item, "PK"), err)
	}
	return nil
}

// scan returns every item whose PK starts with prefix, following pagination.
func (s *Store) scan(ctx context.Context, prefix string) ([]map[string]types.AttributeValue, error) {
	var (
		items []map[string]types.AttributeValue
		start map[string]types.AttributeValue
	)
	for {
		out, err := s.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": str(prefix),
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", prefix, err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		start = out.LastEvaluatedKey
	}
}

func (s *Store) SaveTopicMapping(ctx context.Context, mapping storetypes.TopicMapping) error {
	return s.put(ctx, map[string]types.AttributeValue{
		"PK":              str(pkTopic + mapping.ConversationID),
		"conversation_id": str(mapping.ConversationID),
		"topic_id":        num(int64(mapping.TopicID)),
		"display_name":    str(mapping.DisplayName),
		"created_at":      num(mapping.CreatedAt.UnixMilli()),
	})
}

func (s *Store) TopicMappings(ctx context.Context) ([]storetypes.TopicMapping, error) {
	items, err := s.scan(ctx, pkTopic)
	if err != nil {
		return nil, err
	}

	mappings := make([]storetypes.TopicMapping, 0, len(items))
	for _, item := range items {
		topicID, err := attrInt(item, "topic_id")
		if err != nil {
			return nil, err
		}
		createdAt, err := attrInt(item, "created_at")
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, storetypes.TopicMapping{
			ConversationID: attrString(item, "conversation_id"),
			TopicID:        int(topicID),
			DisplayName:    attrString(item, "display_name"),
			CreatedAt:      time.UnixMilli(createdAt).UTC(),
		})
	}
	sort.Slice(mappings, func(i, j int) bool {
		return mappings[i].ConversationID < mappings[j].ConversationID
	})
	return mappings, nil
}

func (s *Store) SaveSpecialTopic(ctx context.Context, kind storetypes.SpecialKind, topicID int) error {
	return s.put(ctx, map[string]types.AttributeValue{
		"PK":         str(pkSpecial + string(kind)),
		"topic_type": str(string(kind)),
		"topic_id":   num(int64(topicID)),
	})
}

func (s *Store) SpecialTopics(ctx context.Context) (storetypes.SpecialTopics, error) {
	items, err := s.scan(ctx, pkSpecial)
	if err != nil {
		return nil, err
	}

	topics := make(storetypes.SpecialTopics, len(items))
	for _, item := range items {
		topicID, err := attrInt(item, "topic_id")
		if err != nil {
			return nil, err
		}
		topics[storetypes.SpecialKind(attrString(item, "topic_type"))] = int(topicID)
	}
	return topics, nil
}

func (s *Store) SaveProfileSnapshot(ctx context.Context, snapshot storetypes.ProfileSnapshot) error {
	return s.put(ctx, map[string]types.AttributeValue{
		"PK":         str(pkProfile + snapshot.SubjectID),
		"subject_id": str(snapshot.SubjectID),
		"image_url":  str(snapshot.ImageURL),
		"image_hash": str(snapshot.ImageHash),
		"updated_at": num(snapshot.UpdatedAt.UnixMilli()),
	})
}

func (s *Store) ProfileSnapshot(ctx context.Context, subjectID string) (storetypes.ProfileSnapshot, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": str(pkProfile + subjectID),
		},
	})
	if err != nil {
		return storetypes.ProfileSnapshot{}, false, fmt.Errorf("get profile %s: %w", subjectID, err)
	}
	if out == nil || len(out.Item) == 0 {
		return storetypes.ProfileSnapshot{}, false, nil
	}

	updatedAt, err := attrInt(out.Item, "updated_at")
	if err != nil {
		return storetypes.ProfileSnapshot{}, false, err
	}
	return storetypes.ProfileSnapshot{
		SubjectID: attrString(out.Item, "subject_id"),
		ImageURL:  attrString(out.Item, "image_url"),
		ImageHash: attrString(out.Item, "image_hash"),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}, true, nil
}

func (s *Store) SaveUser(ctx context.Context, user storetypes.User) error {
	return s.put(ctx, map[string]types.AttributeValue{
		"PK":        str(pkUser + user.SourceID),
		"source_id": str(user.SourceID),
		"name":      str(user.Name),
		"phone":     str(user.Phone),
		"last_seen": num(user.LastSeen.UnixMilli()),
	})
}

// AppendMessage keys rows by conversation, time and a fresh row id, so a
// repeated message id never overwrites an earlier row.
func (s *Store) AppendMessage(ctx context.Context, record storetypes.MessageRecord) error {
	at := record.At.UnixMilli()
	return s.put(ctx, map[string]types.AttributeValue{
		"PK":              str(fmt.Sprintf("%s%s#%013d#%s", pkMessage, record.ConversationID, at, uuid.NewString())),
		"message_id":      str(record.MessageID),
		"conversation_id": str(record.ConversationID),
		"sender":          str(record.Sender),
		"content":         str(record.Content),
		"kind":            str(record.Kind),
		"at":              num(at),
	})
}

func (s *Store) Stats(ctx context.Context) (storetypes.Stats, error) {
	var stats storetypes.Stats
	for prefix, into := range map[string]*int{
		pkTopic:   &stats.Topics,
		pkSpecial: &stats.Special,
		pkProfile: &stats.Snapshots,
		pkUser:    &stats.Users,
		pkMessage: &stats.Messages,
	} {
		items, err := s.scan(ctx, prefix)
		if err != nil {
			return storetypes.Stats{}, err
		}
		*into = len(items)
	}
	return stats, nil
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(s.table)})
	if err != nil {
		return fmt.Errorf("describe table %s: %w", s.table, err)
	}
	return nil
}

func (s *Store) Close(context.Context) error {
	return nil
}
