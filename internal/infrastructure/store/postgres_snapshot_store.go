package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

// PostgresSnapshotStore stores snapshots in PostgreSQL, append-only with a
// per-aggregate snapshot_version.
type PostgresSnapshotStore struct {
	db *sql.DB
}

func NewPostgresSnapshotStore(db *sql.DB) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{db: db}
}

// EnsureSchema creates the snapshots table and the latest-snapshot index.
func (ss *PostgresSnapshotStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			aggregate_id TEXT NOT NULL,
			snapshot_version INT NOT NULL,
			state JSONB NOT NULL,
			last_event_sequence INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (aggregate_id, snapshot_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_latest ON snapshots (aggregate_id, last_event_sequence DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := ss.db.ExecContext(ctx, stmt); err != nil {
			return storageUnavailable("ensure snapshots schema", err)
		}
	}
	return nil
}

func (ss *PostgresSnapshotStore) Save(ctx context.Context, aggregateID string, state json.RawMessage, lastEventSequence int) (int, error) {
	var version int
	err := ss.db.QueryRowContext(ctx,
		`INSERT INTO snapshots (aggregate_id, snapshot_version, state, last_event_sequence, created_at)
		 SELECT $1, COALESCE(MAX(snapshot_version), 0) + 1, $2, $3, $4 FROM snapshots WHERE aggregate_id = $1
		 RETURNING snapshot_version`,
		aggregateID, []byte(state), lastEventSequence, time.Now().UTC(),
	).Scan(&version)
	if err != nil {
		return 0, storageUnavailable("save snapshot", err)
	}
	return version, nil
}

func (ss *PostgresSnapshotStore) GetLatest(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var (
		snap  Snapshot
		state []byte
	)
	err := ss.db.QueryRowContext(ctx,
		`SELECT aggregate_id, snapshot_version, state, last_event_sequence, created_at
		 FROM snapshots
		 WHERE aggregate_id = $1
		 ORDER BY last_event_sequence DESC, snapshot_version DESC
		 LIMIT 1`,
		aggregateID,
	).Scan(&snap.AggregateID, &snap.SnapshotVersion, &state, &snap.LastEventSequence, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageUnavailable("read latest snapshot", err)
	}
	snap.State = state
	return &snap, nil
}

func (ss *PostgresSnapshotStore) DeleteOlderThan(ctx context.Context, aggregateID string, keepCount int, maxAge time.Duration) (int, error) {
	if keepCount < 1 {
		keepCount = 1
	}
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = time.Now().UTC().Add(-maxAge)
	}
	res, err := ss.db.ExecContext(ctx,
		`DELETE FROM snapshots s
		 USING (
			 SELECT snapshot_version,
			        ROW_NUMBER() OVER (ORDER BY snapshot_version DESC) AS rank,
			        created_at
			 FROM snapshots WHERE aggregate_id = $1
		 ) r
		 WHERE s.aggregate_id = $1
		   AND s.snapshot_version = r.snapshot_version
		   AND r.rank > 1
		   AND (r.rank > $2 OR ($3::timestamptz IS NOT NULL AND r.created_at < $3))`,
		aggregateID, keepCount, nullableTime(cutoff),
	)
	if err != nil {
		return 0, storageUnavailable("delete old snapshots", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storageUnavailable("count deleted snapshots", err)
	}
	return int(deleted), nil
}

func (ss *PostgresSnapshotStore) DeleteAll(ctx context.Context, aggregateID string) (int, error) {
	res, err := ss.db.ExecContext(ctx, `DELETE FROM snapshots WHERE aggregate_id = $1`, aggregateID)
	if err != nil {
		return 0, storageUnavailable("delete snapshots", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, storageUnavailable("count deleted snapshots", err)
	}
	return int(deleted), nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
