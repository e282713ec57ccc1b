package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

func itoa(n int) string { return strconv.Itoa(n) }

// PostgresEventStore stores events in PostgreSQL. Appends run in a
// transaction; the unique (aggregate_id, sequence_number) constraint is the
// backstop against two writers passing the version check at the same time.
type PostgresEventStore struct {
	db *sql.DB
}

func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// EnsureSchema creates the events table and its secondary indexes.
func (es *PostgresEventStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			aggregate_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			event_type TEXT NOT NULL,
			schema_version INT NOT NULL DEFAULT 1,
			sequence_number INT NOT NULL,
			data JSONB NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			occurred_at TIMESTAMPTZ NOT NULL,
			UNIQUE (aggregate_id, sequence_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events (event_type, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_correlation_time ON events ((metadata->>'correlation_id'), occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time_id ON events (occurred_at, id)`,
	}
	for _, stmt := range stmts {
		if _, err := es.db.ExecContext(ctx, stmt); err != nil {
			return storageUnavailable("ensure events schema", err)
		}
	}
	return nil
}

func (es *PostgresEventStore) Append(ctx context.Context, aggregateID, aggregateType string, newEvents []NewEvent, expectedVersion int) ([]Event, error) {
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

	tx, err := es.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageUnavailable("begin append tx", err)
	}
	defer tx.Rollback()

	var currentVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&currentVersion)
	if err != nil {
		return nil, storageUnavailable("read current version", err)
	}
	if currentVersion != expectedVersion {
		return nil, concurrencyConflict(aggregateID, expectedVersion, currentVersion)
	}

	now := time.Now().UTC()
	stored := make([]Event, len(newEvents))
	for i, ne := range newEvents {
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
			Data:           payloads[i],
			Metadata:       ne.Metadata,
			OccurredAt:     ne.occurredAtOrNow(now),
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO events (id, aggregate_id, aggregate_type, event_type, schema_version, sequence_number, data, metadata, occurred_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			stored[i].ID,
			stored[i].AggregateID,
			stored[i].AggregateType,
			stored[i].EventType,
			stored[i].SchemaVersion,
			stored[i].SequenceNumber,
			[]byte(stored[i].Data),
			metadata,
			stored[i].OccurredAt,
		)
		if err != nil {
			return nil, classifyAppendError(aggregateID, expectedVersion, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, classifyAppendError(aggregateID, expectedVersion, err)
	}
	return stored, nil
}

// classifyAppendError maps a unique violation on (aggregate_id,
// sequence_number) to a concurrency conflict; anything else is transient.
func classifyAppendError(aggregateID string, expectedVersion int, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return concurrencyConflict(aggregateID, expectedVersion, -1)
	}
	return storageUnavailable("append events", err)
}

func (es *PostgresEventStore) ReadEvents(ctx context.Context, aggregateID string, fromSeq, toSeq int) ([]Event, error) {
	if fromSeq < 1 {
		fromSeq = 1
	}
	query := `SELECT id, aggregate_id, aggregate_type, event_type, schema_version, sequence_number, data, metadata, occurred_at
		 FROM events
		 WHERE aggregate_id = $1 AND sequence_number >= $2`
	args := []any{aggregateID, fromSeq}
	if toSeq > 0 {
		query += ` AND sequence_number <= $3`
		args = append(args, toSeq)
	}
	query += ` ORDER BY sequence_number ASC`

	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageUnavailable("read events", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (es *PostgresEventStore) ReadByType(ctx context.Context, eventType string, fromTime, toTime time.Time, limit int) ([]Event, error) {
	query := `SELECT id, aggregate_id, aggregate_type, event_type, schema_version, sequence_number, data, metadata, occurred_at
		 FROM events
		 WHERE event_type = $1`
	args := []any{eventType}
	if !fromTime.IsZero() {
		args = append(args, fromTime)
		query += ` AND occurred_at >= $` + itoa(len(args))
	}
	if !toTime.IsZero() {
		args = append(args, toTime)
		query += ` AND occurred_at <= $` + itoa(len(args))
	}
	query += ` ORDER BY occurred_at ASC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + itoa(len(args))
	}

	rows, err := es.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageUnavailable("read events by type", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (es *PostgresEventStore) StreamAll(ctx context.Context, filter StreamFilter, batchSize int) *EventStream {
	return newEventStream(func(ctx context.Context, after Cursor, limit int) ([]Event, error) {
		query := `SELECT id, aggregate_id, aggregate_type, event_type, schema_version, sequence_number, data, metadata, occurred_at
			 FROM events
			 WHERE (occurred_at > $1 OR (occurred_at = $1 AND id > $2))`
		args := []any{time.Unix(0, after.OccurredAt).UTC(), after.EventID}
		if len(filter.EventTypes) > 0 {
			args = append(args, pq.Array(filter.EventTypes))
			query += ` AND event_type = ANY($` + itoa(len(args)) + `)`
		}
		if !filter.FromTime.IsZero() {
			args = append(args, filter.FromTime)
			query += ` AND occurred_at >= $` + itoa(len(args))
		}
		if !filter.ToTime.IsZero() {
			args = append(args, filter.ToTime)
			query += ` AND occurred_at <= $` + itoa(len(args))
		}
		args = append(args, limit)
		query += ` ORDER BY occurred_at ASC, id ASC LIMIT $` + itoa(len(args))

		rows, err := es.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, storageUnavailable("stream events", err)
		}
		defer rows.Close()
		return scanEvents(rows)
	}, batchSize)
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e        Event
			data     []byte
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.SchemaVersion, &e.SequenceNumber, &data, &metadata, &e.OccurredAt); err != nil {
			return nil, storageUnavailable("scan event row", err)
		}
		e.Data = data
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, storageUnavailable("decode event metadata", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageUnavailable("iterate event rows", err)
	}
	return events, nil
}

// ConnectPostgres establishes a pooled connection to PostgreSQL.
func ConnectPostgres(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}
