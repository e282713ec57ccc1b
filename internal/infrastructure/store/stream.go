package store

import (
	"context"
	"sort"
)

// DefaultStreamBatchSize is the page size used when callers pass zero.
const DefaultStreamBatchSize = 200

// Cursor is a restartable position in the global event stream. Pagination is
// keyset on (occurred_at, event id): occurred_at is writer-supplied logical
// time, ties are broken by event id for a stable order.
type Cursor struct {
	OccurredAt int64  `json:"occurred_at_unix_nano"`
	EventID    string `json:"event_id"`
}

// Precedes reports whether the event sorts strictly after the cursor.
func (c Cursor) Precedes(e Event) bool {
	nanos := e.OccurredAt.UnixNano()
	if nanos != c.OccurredAt {
		return nanos > c.OccurredAt
	}
	return e.ID > c.EventID
}

func cursorFor(e Event) Cursor {
	return Cursor{OccurredAt: e.OccurredAt.UnixNano(), EventID: e.ID}
}

// streamPage fetches up to limit events sorting strictly after the cursor,
// ordered by (occurred_at, event id).
type streamPage func(ctx context.Context, after Cursor, limit int) ([]Event, error)

// EventStream pulls filtered events one batch at a time so unbounded result
// sets never have to fit in memory. It is single-consumer and not safe for
// concurrent use.
type EventStream struct {
	fetch     streamPage
	batchSize int
	buf       []Event
	pos       int
	cursor    Cursor
	done      bool
	err       error
}

func newEventStream(fetch streamPage, batchSize int) *EventStream {
	if batchSize <= 0 {
		batchSize = DefaultStreamBatchSize
	}
	return &EventStream{fetch: fetch, batchSize: batchSize, cursor: Cursor{OccurredAt: minCursorNanos}}
}

// minCursorNanos sorts before any real timestamp, including the zero time.
const minCursorNanos = int64(-1) << 62

// newEventStreamFrom resumes a stream from a previously observed cursor.
func newEventStreamFrom(fetch streamPage, batchSize int, resume Cursor) *EventStream {
	s := newEventStream(fetch, batchSize)
	s.cursor = resume
	return s
}

// Next returns the next event in stream order. ok is false when the stream
// is exhausted or failed; check Err afterwards.
func (s *EventStream) Next(ctx context.Context) (Event, bool) {
	if s.err != nil {
		return Event{}, false
	}
	if s.pos >= len(s.buf) {
		if s.done {
			return Event{}, false
		}
		if err := s.fill(ctx); err != nil {
			s.err = err
			return Event{}, false
		}
		if s.pos >= len(s.buf) {
			return Event{}, false
		}
	}
	e := s.buf[s.pos]
	s.pos++
	s.cursor = cursorFor(e)
	return e, true
}

func (s *EventStream) fill(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch, err := s.fetch(ctx, s.cursor, s.batchSize)
	if err != nil {
		return err
	}
	if len(batch) < s.batchSize {
		s.done = true
	}
	s.buf = batch
	s.pos = 0
	return nil
}

// Err returns the error that terminated the stream, if any.
func (s *EventStream) Err() error { return s.err }

// Cursor returns the position of the last event yielded by Next, usable to
// resume a failed stream without reprocessing from scratch.
func (s *EventStream) Cursor() Cursor { return s.cursor }

func sortByOccurrence(events []Event) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].ID < events[j].ID
	})
}
