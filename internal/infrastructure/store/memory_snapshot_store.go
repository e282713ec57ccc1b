package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemorySnapshotStore keeps snapshots in process memory.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]Snapshot // aggregateID -> snapshots ordered by snapshot_version
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string][]Snapshot)}
}

func (s *MemorySnapshotStore) Save(ctx context.Context, aggregateID string, state json.RawMessage, lastEventSequence int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	version := len(s.snapshots[aggregateID]) + 1
	snap := Snapshot{
		AggregateID:       aggregateID,
		SnapshotVersion:   version,
		State:             append(json.RawMessage(nil), state...),
		LastEventSequence: lastEventSequence,
		CreatedAt:         time.Now().UTC(),
	}
	s.snapshots[aggregateID] = append(s.snapshots[aggregateID], snap)
	return version, nil
}

func (s *MemorySnapshotStore) GetLatest(ctx context.Context, aggregateID string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[aggregateID]
	if len(snaps) == 0 {
		return nil, nil
	}
	latest := snaps[0]
	for _, snap := range snaps[1:] {
		if snap.LastEventSequence >= latest.LastEventSequence {
			latest = snap
		}
	}
	out := latest
	return &out, nil
}

func (s *MemorySnapshotStore) DeleteOlderThan(ctx context.Context, aggregateID string, keepCount int, maxAge time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if keepCount < 1 {
		keepCount = 1
	}
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.snapshots[aggregateID]
	kept := make([]Snapshot, 0, len(snaps))
	deleted := 0
	for i, snap := range snaps {
		rank := len(snaps) - i // 1 == newest
		tooOld := !cutoff.IsZero() && snap.CreatedAt.Before(cutoff)
		if rank > 1 && (rank > keepCount || tooOld) {
			deleted++
			continue
		}
		kept = append(kept, snap)
	}
	s.snapshots[aggregateID] = kept
	return deleted, nil
}

func (s *MemorySnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := len(s.snapshots[aggregateID])
	delete(s.snapshots, aggregateID)
	return deleted, nil
}
