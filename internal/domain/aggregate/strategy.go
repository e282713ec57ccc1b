package aggregate

import "time"

// DefaultSnapshotThreshold is the event-count fallback used when a strategy
// is configured without one.
const DefaultSnapshotThreshold = 10

// SnapshotStrategy decides whether a new snapshot should be taken after a
// load reached the given event count. Pure decision function; the
// Repository alone acts on the result.
type SnapshotStrategy interface {
	ShouldSnapshot(eventCount int, lastSnapshotAt time.Time) bool
}

// EventCountStrategy snapshots every Threshold events.
type EventCountStrategy struct {
	Threshold int
}

func (s EventCountStrategy) ShouldSnapshot(eventCount int, _ time.Time) bool {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultSnapshotThreshold
	}
	return eventCount > 0 && eventCount%threshold == 0
}

// TimeStrategy snapshots when Interval has elapsed since the last snapshot.
// With no prior snapshot it falls back to an event-count floor, so
// low-activity but long-lived aggregates still get a first snapshot.
type TimeStrategy struct {
	Interval  time.Duration
	MinEvents int

	now func() time.Time // test hook
}

func (s TimeStrategy) ShouldSnapshot(eventCount int, lastSnapshotAt time.Time) bool {
	if lastSnapshotAt.IsZero() {
		minEvents := s.MinEvents
		if minEvents <= 0 {
			minEvents = DefaultSnapshotThreshold
		}
		return eventCount >= minEvents
	}
	now := time.Now()
	if s.now != nil {
		now = s.now()
	}
	return s.Interval > 0 && now.Sub(lastSnapshotAt) >= s.Interval
}

// HybridStrategy snapshots when either sub-policy fires.
type HybridStrategy struct {
	Count EventCountStrategy
	Time  TimeStrategy
}

func (s HybridStrategy) ShouldSnapshot(eventCount int, lastSnapshotAt time.Time) bool {
	return s.Count.ShouldSnapshot(eventCount, lastSnapshotAt) ||
		s.Time.ShouldSnapshot(eventCount, lastSnapshotAt)
}
