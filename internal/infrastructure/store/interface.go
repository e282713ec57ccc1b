package store

import (
	"context"
	"encoding/json"
	"time"
)

// EventStore is the append-only event log. Implementations must assign
// gap-free per-aggregate sequence numbers starting at 1 and reject appends
// whose expectedVersion does not match the current highest sequence number.
type EventStore interface {
	// Append atomically stores newEvents for the aggregate, assigning
	// sequence numbers expectedVersion+1..expectedVersion+len(newEvents).
	// Returns the stored events. Fails with ErrConcurrencyConflict on a
	// version mismatch and ErrStorageUnavailable on transient faults.
	Append(ctx context.Context, aggregateID, aggregateType string, newEvents []NewEvent, expectedVersion int) ([]Event, error)

	// ReadEvents returns the aggregate's events with fromSeq <= sequence
	// number <= toSeq, ascending. toSeq == 0 means unbounded. An empty
	// result does not imply the aggregate does not exist.
	ReadEvents(ctx context.Context, aggregateID string, fromSeq, toSeq int) ([]Event, error)

	// ReadByType returns events of one type across aggregates, ordered by
	// occurred-at ascending. Zero time bounds are unbounded (inclusive
	// otherwise); limit <= 0 means no limit.
	ReadByType(ctx context.Context, eventType string, fromTime, toTime time.Time, limit int) ([]Event, error)

	// StreamAll returns a lazy, internally paginated stream over all events
	// matching the filter, ordered by (occurred_at, event id).
	StreamAll(ctx context.Context, filter StreamFilter, batchSize int) *EventStream
}

// StreamFilter narrows a StreamAll scan. Empty fields match everything;
// time bounds are inclusive.
type StreamFilter struct {
	EventTypes []string
	FromTime   time.Time
	ToTime     time.Time
}

// Matches reports whether the event passes the filter.
func (f StreamFilter) Matches(e Event) bool {
	if len(f.EventTypes) > 0 {
		found := false
		for _, t := range f.EventTypes {
			if t == e.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.FromTime.IsZero() && e.OccurredAt.Before(f.FromTime) {
		return false
	}
	if !f.ToTime.IsZero() && e.OccurredAt.After(f.ToTime) {
		return false
	}
	return true
}

// Snapshot is a memoized reconstruction of aggregate state at a known event
// sequence point. Snapshots are derived cache data: the system must remain
// correct if all snapshots are deleted.
type Snapshot struct {
	AggregateID       string          `json:"aggregate_id"`
	SnapshotVersion   int             `json:"snapshot_version"`
	State             json.RawMessage `json:"state"`
	LastEventSequence int             `json:"last_event_sequence"`
	CreatedAt         time.Time       `json:"created_at"`
}

// SnapshotStore is keyed storage of serialized aggregate state. Saves are
// append-only; retention is a separate administrative operation.
type SnapshotStore interface {
	// Save stores a snapshot and returns its per-aggregate snapshot version.
	Save(ctx context.Context, aggregateID string, state json.RawMessage, lastEventSequence int) (int, error)

	// GetLatest returns the snapshot with the greatest lastEventSequence for
	// the aggregate, or nil when none exists.
	GetLatest(ctx context.Context, aggregateID string) (*Snapshot, error)

	// DeleteOlderThan keeps the most recent keepCount snapshots and discards
	// anything older than maxAge, but never deletes the single latest
	// snapshot. maxAge <= 0 disables the age cutoff. Returns the number of
	// snapshots deleted.
	DeleteOlderThan(ctx context.Context, aggregateID string, keepCount int, maxAge time.Duration) (int, error)

	// DeleteAll removes every snapshot for the aggregate. Used by replay
	// jobs with ResetFirst; loads afterwards fall back to full replay.
	DeleteAll(ctx context.Context, aggregateID string) (int, error)
}

// ReadStore is the projection read-model sink: JSON documents grouped by
// collection. Writes are full-document upserts so reapplying an event
// converges rather than duplicating.
type ReadStore interface {
	Set(ctx context.Context, collection, id string, doc any) error
	Get(ctx context.Context, collection, id string, out any) (bool, error)
	Delete(ctx context.Context, collection, id string) error
	Clear(ctx context.Context, collection string) error
	List(ctx context.Context, collection string) ([]json.RawMessage, error)
}
