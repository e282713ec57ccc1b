package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
	"github.com/example/ec-eventstore/internal/task"
)

// Publisher receives each event appended through the Repository. Delivery
// guarantees beyond the handoff are the publisher's own concern.
type Publisher interface {
	Publish(ctx context.Context, key string, event store.Event) error
}

// Repository orchestrates loading (snapshot + delta events) and saving
// (append + conditional new snapshot) of aggregates. It holds no
// per-aggregate locks: optimistic concurrency in the event store arbitrates
// concurrent saves, so any number of service instances can share one store.
type Repository struct {
	events    store.EventStore
	snapshots store.SnapshotStore
	strategy  SnapshotStrategy
	publisher Publisher
	tasks     *task.Queue
	logger    *zap.Logger
}

type RepositoryOption func(*Repository)

func WithSnapshotStrategy(s SnapshotStrategy) RepositoryOption {
	return func(r *Repository) { r.strategy = s }
}

func WithPublisher(p Publisher) RepositoryOption {
	return func(r *Repository) { r.publisher = p }
}

func WithTaskQueue(q *task.Queue) RepositoryOption {
	return func(r *Repository) { r.tasks = q }
}

func WithLogger(l *zap.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

func NewRepository(events store.EventStore, snapshots store.SnapshotStore, opts ...RepositoryOption) *Repository {
	r := &Repository{
		events:    events,
		snapshots: snapshots,
		strategy:  EventCountStrategy{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "repository"))
	if r.tasks == nil {
		r.tasks = task.NewQueue(r.logger, 64)
	}
	return r
}

// Flush waits for outstanding background work (snapshot writes, publishes).
func (r *Repository) Flush() { r.tasks.Flush() }

// Load reconstructs an aggregate: latest snapshot, then delta events folded
// on top. A snapshot read failure degrades to a full replay — snapshots are
// disposable cache, never a correctness dependency. Returns
// store.ErrNotFound when the aggregate has no snapshot and no events.
//
// After a successful load the snapshot strategy is consulted; when it fires,
// a new snapshot is written in the background without blocking the caller.
func Load[T Aggregate](ctx context.Context, r *Repository, aggregateID string, newAggregate func() T) (T, error) {
	var zero T
	agg := newAggregate()

	snap, err := r.snapshots.GetLatest(ctx, aggregateID)
	if err != nil {
		r.logger.Warn("snapshot read failed, replaying from scratch",
			zap.String("aggregate_id", aggregateID),
			zap.Error(err))
		snap = nil
	}

	fromSeq := 1
	var lastSnapshotAt time.Time
	snapshotSeq := 0
	if snap != nil {
		if err := json.Unmarshal(snap.State, agg); err != nil {
			// A snapshot that will not decode is treated like a missing one.
			r.logger.Warn("snapshot decode failed, replaying from scratch",
				zap.String("aggregate_id", aggregateID),
				zap.Error(err))
			agg = newAggregate() // the failed decode may have left partial state
			snap = nil
		} else {
			fromSeq = snap.LastEventSequence + 1
			lastSnapshotAt = snap.CreatedAt
			snapshotSeq = snap.LastEventSequence
		}
	}

	events, err := r.events.ReadEvents(ctx, aggregateID, fromSeq, 0)
	if err != nil {
		return zero, err
	}
	if snap == nil && len(events) == 0 {
		return zero, fmt.Errorf("%w: %s", store.ErrNotFound, aggregateID)
	}
	if err := Fold(agg, events); err != nil {
		return zero, err
	}

	r.maybeSnapshot(agg, snapshotSeq, lastSnapshotAt)
	return agg, nil
}

// Save appends newEvents under optimistic concurrency control and returns
// the new version. A ConcurrencyConflict propagates unchanged: retrying
// requires re-running business validation against fresh state, which is the
// command handler's call, not the repository's.
//
// Newly appended events are handed to the publisher in the background; a
// publish failure is logged and never fails the already-durable write.
func (r *Repository) Save(ctx context.Context, aggregateID, aggregateType string, expectedVersion int, newEvents []store.NewEvent) (int, error) {
	if len(newEvents) == 0 {
		return expectedVersion, nil
	}

	stored, err := r.events.Append(ctx, aggregateID, aggregateType, newEvents, expectedVersion)
	if err != nil {
		return 0, err
	}
	newVersion := stored[len(stored)-1].SequenceNumber

	if r.publisher != nil {
		events := stored
		r.tasks.Submit("publish "+aggregateID, func(ctx context.Context) error {
			for _, event := range events {
				if err := r.publisher.Publish(ctx, event.AggregateID, event); err != nil {
					return fmt.Errorf("publish %s seq %d: %w", event.EventType, event.SequenceNumber, err)
				}
			}
			return nil
		})
	}
	return newVersion, nil
}

// DeleteOldSnapshots applies the administrative retention policy.
func (r *Repository) DeleteOldSnapshots(ctx context.Context, aggregateID string, keepCount int, maxAge time.Duration) (int, error) {
	return r.snapshots.DeleteOlderThan(ctx, aggregateID, keepCount, maxAge)
}

func (r *Repository) maybeSnapshot(agg Aggregate, snapshotSeq int, lastSnapshotAt time.Time) {
	if r.strategy == nil {
		return
	}
	version := agg.GetVersion()
	if version == 0 || version == snapshotSeq {
		return
	}
	if !r.strategy.ShouldSnapshot(version, lastSnapshotAt) {
		return
	}

	// Marshal now: the aggregate belongs to the caller once Load returns.
	state, err := json.Marshal(agg)
	if err != nil {
		r.logger.Warn("marshal aggregate state for snapshot failed",
			zap.String("aggregate_id", agg.GetID()),
			zap.Error(err))
		return
	}
	aggregateID := agg.GetID()
	r.tasks.Submit("snapshot "+aggregateID, func(ctx context.Context) error {
		if _, err := r.snapshots.Save(ctx, aggregateID, state, version); err != nil {
			return fmt.Errorf("save snapshot for %s at seq %d: %w", aggregateID, version, err)
		}
		return nil
	})
}
