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
	"github.com/google/uuid"
)

// DynamoEventStore stores events in DynamoDB. The table is keyed by
// (aggregate_id, sequence_number); gsi1 (event_type, occurred_at) serves
// typed reads, gsi2 (fixed "EVENTS" partition, occurred_at) serves global
// streaming.
type DynamoEventStore struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoEvent is the DynamoDB item structure.
type dynamoEvent struct {
	AggregateID    string `dynamodbav:"aggregate_id"`
	SequenceNumber int    `dynamodbav:"sequence_number"`
	ID             string `dynamodbav:"id"`
	AggregateType  string `dynamodbav:"aggregate_type"`
	EventType      string `dynamodbav:"event_type"`
	SchemaVersion  int    `dynamodbav:"schema_version"`
	Data           string `dynamodbav:"data"`
	Metadata       string `dynamodbav:"metadata"`
	OccurredAt     string `dynamodbav:"occurred_at"`
	GSI2PK         string `dynamodbav:"gsi2pk"`
}

// globalPartition is the fixed gsi2 partition key that makes the whole log
// queryable in occurred_at order.
const globalPartition = "EVENTS"

// dynamoTimeFormat is fixed width so lexicographic order of the string sort
// key equals chronological order. RFC3339Nano trims trailing fractional
// zeros, which makes "...:05Z" sort after "...:05.5Z". Times are stored UTC.
const dynamoTimeFormat = "2006-01-02T15:04:05.000000000Z"

func NewDynamoEventStore(client *dynamodb.Client, tableName string) *DynamoEventStore {
	return &DynamoEventStore{client: client, tableName: tableName}
}

func (es *DynamoEventStore) Append(ctx context.Context, aggregateID, aggregateType string, newEvents []NewEvent, expectedVersion int) ([]Event, error) {
	if len(newEvents) == 0 {
		return nil, nil
	}

	currentVersion, err := es.currentVersion(ctx, aggregateID)
	if err != nil {
		return nil, err
	}
	if currentVersion != expectedVersion {
		return nil, concurrencyConflict(aggregateID, expectedVersion, currentVersion)
	}

	now := time.Now().UTC()
	stored := make([]Event, len(newEvents))
	items := make([]types.TransactWriteItem, len(newEvents))
	for i, ne := range newEvents {
		data, err := marshalPayload(ne.Data)
		if err != nil {
			return nil, err
		}
		metadata, err := json.Marshal(ne.Metadata)
		if err != nil {
			return nil, err
		}
		stored[i] = Event{
			ID:             uuid.New().String(),
			AggregateID:    aggregateID,
			AggregateType:  aggregateType,
			EventType:      ne.EventType,
			SchemaVersion:  ne.SchemaVersion,
			SequenceNumber: expectedVersion + i + 1,
			Data:           data,
			Metadata:       ne.Metadata,
			OccurredAt:     ne.occurredAtOrNow(now),
		}
		av, err := attributevalue.MarshalMap(dynamoEvent{
			AggregateID:    stored[i].AggregateID,
			SequenceNumber: stored[i].SequenceNumber,
			ID:             stored[i].ID,
			AggregateType:  stored[i].AggregateType,
			EventType:      stored[i].EventType,
			SchemaVersion:  stored[i].SchemaVersion,
			Data:           string(data),
			Metadata:       string(metadata),
			OccurredAt:     stored[i].OccurredAt.Format(dynamoTimeFormat),
			GSI2PK:         globalPartition,
		})
		if err != nil {
			return nil, storageUnavailable("marshal event item", err)
		}
		items[i] = types.TransactWriteItem{
			Put: &types.Put{
				TableName:           aws.String(es.tableName),
				Item:                av,
				ConditionExpression: aws.String("attribute_not_exists(aggregate_id) AND attribute_not_exists(sequence_number)"),
			},
		}
	}

	// Single transaction: either every event lands or none are visible.
	_, err = es.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			for _, reason := range canceled.CancellationReasons {
				if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
					return nil, concurrencyConflict(aggregateID, expectedVersion, -1)
				}
			}
		}
		return nil, storageUnavailable("append events", err)
	}
	return stored, nil
}

// currentVersion queries the highest sequence number for the aggregate.
func (es *DynamoEventStore) currentVersion(ctx context.Context, aggregateID string) (int, error) {
	result, err := es.client.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(es.tableName),
		KeyConditionExpression: aws.String("aggregate_id = :aid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":aid": &types.AttributeValueMemberS{Value: aggregateID},
		},
		ScanIndexForward:     aws.Bool(false),
		Limit:                aws.Int32(1),
		ProjectionExpression: aws.String("sequence_number"),
	})
	if err != nil {
		return 0, storageUnavailable("read current version", err)
	}
	if len(result.Items) == 0 {
		return 0, nil
	}
	var item struct {
		SequenceNumber int `dynamodbav:"sequence_number"`
	}
	if err := attributevalue.UnmarshalMap(result.Items[0], &item); err != nil {
		return 0, storageUnavailable("unmarshal version item", err)
	}
	return item.SequenceNumber, nil
}

func (es *DynamoEventStore) ReadEvents(ctx context.Context, aggregateID string, fromSeq, toSeq int) ([]Event, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	keyCondition := "aggregate_id = :aid AND sequence_number >= :from"
	values := map[string]types.AttributeValue{
		":aid":  &types.AttributeValueMemberS{Value: aggregateID},
		":from": &types.AttributeValueMemberN{Value: itoa(fromSeq)},
	}
	if toSeq > 0 {
		keyCondition = "aggregate_id = :aid AND sequence_number BETWEEN :from AND :to"
		values[":to"] = &types.AttributeValueMemberN{Value: itoa(toSeq)}
	}

	var events []Event
	var startKey map[string]types.AttributeValue
	for {
		result, err := es.client.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(es.tableName),
			KeyConditionExpression:    aws.String(keyCondition),
			ExpressionAttributeValues: values,
			ScanIndexForward:          aws.Bool(true),
			ExclusiveStartKey:         startKey,
		})
		if err != nil {
			return nil, storageUnavailable("read events", err)
		}
		page, err := unmarshalDynamoEvents(result.Items)
		if err != nil {
			return nil, err
		}
		events = append(events, page...)
		if result.LastEvaluatedKey == nil {
			return events, nil
		}
		startKey = result.LastEvaluatedKey
	}
}

func (es *DynamoEventStore) ReadByType(ctx context.Context, eventType string, fromTime, toTime time.Time, limit int) ([]Event, error) {
	keyCondition := "event_type = :et"
	values := map[string]types.AttributeValue{
		":et": &types.AttributeValueMemberS{Value: eventType},
	}
	switch {
	case !fromTime.IsZero() && !toTime.IsZero():
		keyCondition += " AND occurred_at BETWEEN :from AND :to"
		values[":from"] = &types.AttributeValueMemberS{Value: fromTime.UTC().Format(dynamoTimeFormat)}
		values[":to"] = &types.AttributeValueMemberS{Value: toTime.UTC().Format(dynamoTimeFormat)}
	case !fromTime.IsZero():
		keyCondition += " AND occurred_at >= :from"
		values[":from"] = &types.AttributeValueMemberS{Value: fromTime.UTC().Format(dynamoTimeFormat)}
	case !toTime.IsZero():
		keyCondition += " AND occurred_at <= :to"
		values[":to"] = &types.AttributeValueMemberS{Value: toTime.UTC().Format(dynamoTimeFormat)}
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(es.tableName),
		IndexName:                 aws.String("gsi1"),
		KeyConditionExpression:    aws.String(keyCondition),
		ExpressionAttributeValues: values,
		ScanIndexForward:          aws.Bool(true),
	}
	if limit > 0 {
		input.Limit = aws.Int32(int32(limit))
	}
	result, err := es.client.Query(ctx, input)
	if err != nil {
		return nil, storageUnavailable("read events by type", err)
	}
	return unmarshalDynamoEvents(result.Items)
}

func (es *DynamoEventStore) StreamAll(ctx context.Context, filter StreamFilter, batchSize int) *EventStream {
	return newEventStream(func(ctx context.Context, after Cursor, limit int) ([]Event, error) {
		// Inclusive lower bound; events already yielded at the cursor
		// timestamp are dropped client-side below.
		afterTime := time.Unix(0, 0).UTC()
		if after.OccurredAt > 0 {
			afterTime = time.Unix(0, after.OccurredAt).UTC()
		}
		if !filter.FromTime.IsZero() && filter.FromTime.After(afterTime) {
			afterTime = filter.FromTime.UTC()
		}
		keyCondition := "gsi2pk = :pk AND occurred_at >= :after"
		values := map[string]types.AttributeValue{
			":pk":    &types.AttributeValueMemberS{Value: globalPartition},
			":after": &types.AttributeValueMemberS{Value: afterTime.Format(dynamoTimeFormat)},
		}
		if !filter.ToTime.IsZero() {
			keyCondition = "gsi2pk = :pk AND occurred_at BETWEEN :after AND :to"
			values[":to"] = &types.AttributeValueMemberS{Value: filter.ToTime.UTC().Format(dynamoTimeFormat)}
		}

		input := &dynamodb.QueryInput{
			TableName:                 aws.String(es.tableName),
			IndexName:                 aws.String("gsi2"),
			KeyConditionExpression:    aws.String(keyCondition),
			ExpressionAttributeValues: values,
			ScanIndexForward:          aws.Bool(true),
			Limit:                     aws.Int32(int32(limit)),
		}
		if len(filter.EventTypes) > 0 {
			names := make([]string, len(filter.EventTypes))
			for i, et := range filter.EventTypes {
				placeholder := ":ft" + itoa(i)
				values[placeholder] = &types.AttributeValueMemberS{Value: et}
				names[i] = placeholder
			}
			input.FilterExpression = aws.String("event_type IN (" + joinComma(names) + ")")
		}

		// Query Limit counts items before FilterExpression runs, so keep
		// paging until the batch is full or the index is exhausted.
		var out []Event
		for {
			result, err := es.client.Query(ctx, input)
			if err != nil {
				return nil, storageUnavailable("stream events", err)
			}
			events, err := unmarshalDynamoEvents(result.Items)
			if err != nil {
				return nil, err
			}
			for _, e := range events {
				// Drop already-yielded events sharing the cursor timestamp.
				if after.Precedes(e) {
					out = append(out, e)
				}
			}
			if len(out) >= limit || result.LastEvaluatedKey == nil {
				if len(out) > limit {
					out = out[:limit]
				}
				return out, nil
			}
			input.ExclusiveStartKey = result.LastEvaluatedKey
		}
	}, batchSize)
}

func unmarshalDynamoEvents(items []map[string]types.AttributeValue) ([]Event, error) {
	var raw []dynamoEvent
	if err := attributevalue.UnmarshalListOfMaps(items, &raw); err != nil {
		return nil, storageUnavailable("unmarshal event items", err)
	}
	events := make([]Event, len(raw))
	for i, item := range raw {
		occurredAt, err := time.Parse(dynamoTimeFormat, item.OccurredAt)
		if err != nil {
			return nil, storageUnavailable("parse occurred_at", err)
		}
		var metadata Metadata
		if item.Metadata != "" {
			if err := json.Unmarshal([]byte(item.Metadata), &metadata); err != nil {
				return nil, storageUnavailable("decode event metadata", err)
			}
		}
		events[i] = Event{
			ID:             item.ID,
			AggregateID:    item.AggregateID,
			AggregateType:  item.AggregateType,
			EventType:      item.EventType,
			SchemaVersion:  item.SchemaVersion,
			SequenceNumber: item.SequenceNumber,
			Data:           json.RawMessage(item.Data),
			Metadata:       metadata,
			OccurredAt:     occurredAt,
		}
	}
	return events, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
