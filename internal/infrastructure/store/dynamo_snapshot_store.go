package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoSnapshotStore stores snapshots in DynamoDB, keyed by
// (aggregate_id, snapshot_version).
type DynamoSnapshotStore struct {
	client    *dynamodb.Client
	tableName string
}

type dynamoSnapshot struct {
	AggregateID       string `dynamodbav:"aggregate_id"`
	SnapshotVersion   int    `dynamodbav:"snapshot_version"`
	State             string `dynamodbav:"state"`
	LastEventSequence int    `dynamodbav:"last_event_sequence"`
	CreatedAt         string `dynamodbav:"created_at"`
}

func NewDynamoSnapshotStore(client *dynamodb.Client, tableName string) *DynamoSnapshotStore {
	return &DynamoSnapshotStore{client: client, tableName: tableName}
}

func (ss *DynamoSnapshotStore) Save(ctx context.Context, aggregateID string, state json.RawMessage, lastEventSequence int) (int, error) {
	latest, err := ss.latest(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	version := 1
	if latest != nil {
		version = latest.SnapshotVersion + 1
	}

	av, err := attributevalue.MarshalMap(dynamoSnapshot{
		AggregateID:       aggregateID,
		SnapshotVersion:   version,
		State:             string(state),
		LastEventSequence: lastEventSequence,
		CreatedAt:         time.Now().UTC().Format(dynamoTimeFormat),
	})
	if err != nil {
		return 0, storageUnavailable("marshal snapshot item", err)
	}
	_, err = ss.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(ss.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(snapshot_version)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			// Another writer took this version; snapshots are best-effort,
			// the caller will try again on a later cycle.
			return 0, storageUnavailable("snapshot version taken", err)
		}
		return 0, storageUnavailable("save snapshot", err)
	}
	return version, nil
}

// GetLatest returns the snapshot covering the most events. Snapshot versions
// are assigned in write order, which is not coverage order: a bounded replay
// can write a lower-sequence snapshot with a higher version, so the greatest
// last_event_sequence wins, not the greatest snapshot_version.
func (ss *DynamoSnapshotStore) GetLatest(ctx context.Context, aggregateID string) (*Snapshot, error) {
	items, err := ss.list(ctx, aggregateID)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return latestByEventSequence(items).toSnapshot()
}

func latestByEventSequence(items []dynamoSnapshot) *dynamoSnapshot {
	best := &items[0]
	for i := range items[1:] {
		item := &items[i+1]
		if item.LastEventSequence > best.LastEventSequence ||
			(item.LastEventSequence == best.LastEventSequence && item.SnapshotVersion > best.SnapshotVersion) {
			best = item
		}
	}
	return best
}

// latest returns the highest-versioned snapshot item; Save uses it to assign
// the next snapshot_version.
func (ss *DynamoSnapshotStore) latest(ctx context.Context, aggregateID string) (*dynamoSnapshot, error) {
	result, err := ss.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(ss.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, storageUnavailable("read latest snapshot", err)
	}
	if len(result.Items) == 0 {
		return nil, nil
	}
	var item dynamoSnapshot
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return nil, storageUnavailable("unmarshal snapshot item", err)
	}
	return &item, nil
}

func (ss *DynamoSnapshotStore) DeleteOlderThan(ctx context.Context, aggregateID string, keepCount int, maxAge time.Duration) (int, error) {
	if keepCount < 1 {
		keepCount = 1
	}
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}

	items, err := ss.list(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for i, item := range items {
		rank := len(items) - i // items ascend by version; 1 == newest
		tooOld := false
		if !cutoff.IsZero() {
			createdAt, err := time.Parse(dynamoTimeFormat, item.CreatedAt)
			if err != nil {
				return deleted, storageUnavailable("parse snapshot created_at", err)
			}
			tooOld = createdAt.Before(cutoff)
		}
		if rank == 1 || (rank <= keepCount && !tooOld) {
			continue
		}
		if err := ss.deleteVersion(ctx, aggregateID, item.SnapshotVersion); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

func (ss *DynamoSnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	items, err := ss.list(ctx, aggregateID)
	if err != nil {
		return 0, err
	}
	for i, item := range items {
		if err := ss.deleteVersion(ctx, aggregateID, item.SnapshotVersion); err != nil {
			return i, err
		}
	}
	return len(items), nil
}

func (ss *DynamoSnapshotStore) list(ctx context.Context, aggregateID string) ([]dynamoSnapshot, error) {
	var items []dynamoSnapshot
	var startKey map[string]types.AttributeValue
	for {
		result, err := ss.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(ss.tableName),
			KeyConditionExpression: aws.String("aggregate_id = :aid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":aid": &types.AttributeValueMemberS{Value: aggregateID},
			},
			ScanIndexForward:  aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, storageUnavailable("list snapshots", err)
		}
		var page []dynamoSnapshot
		if err := attributevalue.UnmarshalListOfMaps(result.Items, &page); err != nil {
			return nil, storageUnavailable("unmarshal snapshot items", err)
		}
		items = append(items, page...)
		if result.LastEvaluatedKey == nil {
			return items, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

func (ss *DynamoSnapshotStore) deleteVersion(ctx context.Context, aggregateID string, version int) error {
	_, err := ss.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(ss.tableName),
		Key: map[string]types.AttributeValue{
			"aggregate_id":     &types.AttributeValueMemberS{Value: aggregateID},
			"snapshot_version": &types.AttributeValueMemberN{Value: itoa(version)},
		},
	})
	if err != nil {
		return storageUnavailable("delete snapshot", err)
	}
	return nil
}

func (item *dynamoSnapshot) toSnapshot() (*Snapshot, error) {
	createdAt, err := time.Parse(dynamoTimeFormat, item.CreatedAt)
	if err != nil {
		return nil, storageUnavailable("parse snapshot created_at", err)
	}
	return &Snapshot{
		AggregateID:       item.AggregateID,
		SnapshotVersion:   item.SnapshotVersion,
		State:             json.RawMessage(item.State),
		LastEventSequence: item.LastEventSequence,
		CreatedAt:         createdAt,
	}, nil
}
