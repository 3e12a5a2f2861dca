package dynamo

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"wabridge/pkg/store/storetest"
	storetypes "wabridge/pkg/store/types"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table keyed by PK. Scans page pageSize items at a time.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]types.AttributeValue
	pageSize int
	scans    int

	describeErr error
	putErr      error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue), pageSize: 2}
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &dynamodb.GetItemOutput{Item: f.items[attrString(in.Key, "PK")]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items[attrString(in.Item, "PK")] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++

	prefix := attrString(in.ExpressionAttributeValues, ":prefix")
	keys := make([]string, 0, len(f.items))
	for pk := range f.items {
		if strings.HasPrefix(pk, prefix) {
			keys = append(keys, pk)
		}
	}
	sort.Strings(keys)

	start := 0
	if after := attrString(in.ExclusiveStartKey, "PK"); after != "" {
		start = sort.SearchStrings(keys, after) + 1
	}
	end := min(start+f.pageSize, len(keys))

	out := &dynamodb.ScanOutput{}
	for _, pk := range keys[start:end] {
		out.Items = append(out.Items, f.items[pk])
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": str(keys[end-1])}
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return &dynamodb.DescribeTableOutput{}, nil
}

func mustNewStore(t *testing.T, db *fakeDynamo) *Store {
	t.Helper()
	s, err := New(db, "wabridge", nil)
	require.NoError(t, err)
	return s
}

func TestDynamoStoreBehavior(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Backend {
		return mustNewStore(t, newFakeDynamo())
	})
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, "table", nil)
	require.Error(t, err)

	_, err = New(newFakeDynamo(), "  ", nil)
	require.Error(t, err)
}

func TestTopicMappingsFollowsPagination(t *testing.T) {
	ctx := context.Background()
	db := newFakeDynamo()
	s := mustNewStore(t, db)

	for i, id := range []string{"101", "102", "103", "104", "105"} {
		require.NoError(t, s.SaveTopicMapping(ctx, storetypes.TopicMapping{ConversationID: id, TopicID: i + 1}))
	}
	require.NoError(t, s.SaveSpecialTopic(ctx, storetypes.SpecialStatus, 99))

	db.scans = 0
	mappings, err := s.TopicMappings(ctx)
	require.NoError(t, err)
	require.Len(t, mappings, 5)
	require.Equal(t, "101", mappings[0].ConversationID)
	require.Equal(t, 5, mappings[4].TopicID)
	require.Equal(t, 3, db.scans)
}

func TestProfileSnapshotMissing(t *testing.T) {
	s := mustNewStore(t, newFakeDynamo())

	_, ok, err := s.ProfileSnapshot(context.Background(), "nobody")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMalformedItemIsAnError(t *testing.T) {
	db := newFakeDynamo()
	db.items[pkTopic+"1"] = map[string]types.AttributeValue{
		"PK":              str(pkTopic + "1"),
		"conversation_id": str("1"),
		"topic_id":        str("not a number"),
	}
	s := mustNewStore(t, db)

	_, err := s.TopicMappings(context.Background())
	require.Error(t, err)
}

func TestPingAndPutErrorsPropagate(t *testing.T) {
	boom := errors.New("ResourceNotFoundException")
	db := newFakeDynamo()
	db.describeErr = boom
	db.putErr = boom
	s := mustNewStore(t, db)

	require.ErrorIs(t, s.Ping(context.Background()), boom)
	require.ErrorIs(t, s.SaveSpecialTopic(context.Background(), storetypes.SpecialCall, 1), boom)
}
