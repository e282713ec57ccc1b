package aggregate

import (
	"fmt"

	"github.com/example/ec-eventstore/internal/infrastructure/store"
)

// Aggregate is implemented by event-sourced domain entities. ApplyEvent must
// be deterministic and side-effect-free (no I/O, no clock reads) so replay
// is reproducible, and must set the aggregate version to the event's
// sequence number.
type Aggregate interface {
	GetID() string
	GetVersion() int
	ApplyEvent(store.Event) error
}

// Fold applies events, in ascending sequence order, onto the aggregate.
// Folding N events in one call and folding them one at a time produce the
// same state. An apply failure (including an unknown event type) aborts the
// fold: skipping events would corrupt state invisibly.
func Fold(agg Aggregate, events []store.Event) error {
	for _, event := range events {
		if err := agg.ApplyEvent(event); err != nil {
			return fmt.Errorf("apply event %s (seq %d) to %s: %w",
				event.EventType, event.SequenceNumber, event.AggregateID, err)
		}
	}
	return nil
}
