package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event represents a domain event. Events are immutable once appended; the
// ordered sequence of events for one aggregate is the source of truth for
// that aggregate's state.
type Event struct {
	ID             string          `json:"id"`
	AggregateID    string          `json:"aggregate_id"`
	AggregateType  string          `json:"aggregate_type"`
	EventType      string          `json:"event_type"`
	SchemaVersion  int             `json:"schema_version"`
	SequenceNumber int             `json:"sequence_number"`
	Data           json.RawMessage `json:"data"`
	Metadata       Metadata        `json:"metadata"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Metadata carries actor identity and causation context alongside the payload.
type Metadata struct {
	Actor         string `json:"actor,omitempty"`
	CausationID   string `json:"causation_id,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Source        string `json:"source,omitempty"`
}

// NewEvent is the input shape for Append. Data is JSON-marshalled at append
// time. OccurredAt is optional; the store fills in the current time when zero.
type NewEvent struct {
	EventType     string
	SchemaVersion int
	Data          any
	Metadata      Metadata
	OccurredAt    time.Time
}

// EncodeEvent returns the wire encoding of an event for transport.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses an event from its wire encoding.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return e, nil
}

func marshalPayload(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}
	return encoded, nil
}

func (e NewEvent) occurredAtOrNow(now time.Time) time.Time {
	if e.OccurredAt.IsZero() {
		return now
	}
	return e.OccurredAt.UTC()
}
