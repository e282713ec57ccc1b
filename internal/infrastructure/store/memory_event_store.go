package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore keeps events in process memory. It implements the full
// EventStore contract and backs tests and local development; durability is
// the job of the Postgres and DynamoDB backends.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]Event // aggregateID -> events ordered by sequence
	all    []Event            // append order, re-sorted by occurred_at on read
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]Event)}
}

func (s *MemoryEventStore) Append(ctx context.Context, aggregateID, aggregateType string, newEvents []NewEvent, expectedVersion int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(newEvents) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(newEvents))
	for i, ne := range newEvents {
		data, err := marshalPayload(ne.Data)
		if err != nil {
			return nil, err
		}
		payloads[i] = data
	}

	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	current := len(s.events[aggregateID])
	if current != expectedVersion {
		return nil, concurrencyConflict(aggregateID, expectedVersion, current)
	}

	stored := make([]Event, len(newEvents))
	for i, ne := range newEvents {
		stored[i] = Event{
			ID:             uuid.New().String(),
			AggregateID:    aggregateID,
			AggregateType:  aggregateType,
			EventType:      ne.EventType,
			SchemaVersion:  ne.SchemaVersion,
			SequenceNumber: expectedVersion + i + 1,
			Data:           payloads[i],
			Metadata:       ne.Metadata,
			OccurredAt:     ne.occurredAtOrNow(now),
		}
	}
	s.events[aggregateID] = append(s.events[aggregateID], stored...)
	s.all = append(s.all, stored...)

	return stored, nil
}

func (s *MemoryEventStore) ReadEvents(ctx context.Context, aggregateID string, fromSeq, toSeq int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if fromSeq < 1 {
		fromSeq = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events[aggregateID] {
		if e.SequenceNumber < fromSeq {
			continue
		}
		if toSeq > 0 && e.SequenceNumber > toSeq {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemoryEventStore) ReadByType(ctx context.Context, eventType string, fromTime, toTime time.Time, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filter := StreamFilter{EventTypes: []string{eventType}, FromTime: fromTime, ToTime: toTime}

	s.mu.RLock()
	var out []Event
	for _, e := range s.all {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.RUnlock()

	sortByOccurrence(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryEventStore) StreamAll(ctx context.Context, filter StreamFilter, batchSize int) *EventStream {
	return newEventStream(func(ctx context.Context, after Cursor, limit int) ([]Event, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s.mu.RLock()
		var matched []Event
		for _, e := range s.all {
			if filter.Matches(e) && after.Precedes(e) {
				matched = append(matched, e)
			}
		}
		s.mu.RUnlock()

		sortByOccurrence(matched)
		if len(matched) > limit {
			matched = matched[:limit]
		}
		return matched, nil
	}, batchSize)
}
