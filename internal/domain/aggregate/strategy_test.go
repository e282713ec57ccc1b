package aggregate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// ============================================
// EventCountStrategy Tests
// ============================================

func TestEventCountStrategy_FiresOnMultiples(t *testing.T) {
	s := EventCountStrategy{Threshold: 10}

	assert.False(t, s.ShouldSnapshot(0, time.Time{}))
	assert.False(t, s.ShouldSnapshot(9, time.Time{}))
	assert.True(t, s.ShouldSnapshot(10, time.Time{}))
	assert.False(t, s.ShouldSnapshot(11, time.Time{}))
	assert.True(t, s.ShouldSnapshot(20, time.Time{}))
}

func TestEventCountStrategy_DefaultThreshold(t *testing.T) {
	s := EventCountStrategy{}

	assert.False(t, s.ShouldSnapshot(9, time.Time{}))
	assert.True(t, s.ShouldSnapshot(DefaultSnapshotThreshold, time.Time{}))
}

// ============================================
// TimeStrategy Tests
// ============================================

func TestTimeStrategy_FiresAfterInterval(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := TimeStrategy{
		Interval: time.Hour,
		now:      func() time.Time { return base },
	}

	assert.False(t, s.ShouldSnapshot(5, base.Add(-30*time.Minute)))
	assert.True(t, s.ShouldSnapshot(5, base.Add(-time.Hour)))
	assert.True(t, s.ShouldSnapshot(5, base.Add(-2*time.Hour)))
}

func TestTimeStrategy_NoPriorSnapshotUsesEventFloor(t *testing.T) {
	s := TimeStrategy{Interval: time.Hour, MinEvents: 5}

	assert.False(t, s.ShouldSnapshot(4, time.Time{}))
	assert.True(t, s.ShouldSnapshot(5, time.Time{}))
}

// ============================================
// HybridStrategy Tests
// ============================================

func TestHybridStrategy_EitherPolicyFires(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := HybridStrategy{
		Count: EventCountStrategy{Threshold: 10},
		Time: TimeStrategy{
			Interval: time.Hour,
			now:      func() time.Time { return base },
		},
	}

	recent := base.Add(-time.Minute)
	stale := base.Add(-2 * time.Hour)

	assert.False(t, s.ShouldSnapshot(7, recent))
	assert.True(t, s.ShouldSnapshot(10, recent)) // count fires
	assert.True(t, s.ShouldSnapshot(7, stale))   // time fires
	assert.True(t, s.ShouldSnapshot(10, stale))  // both fire
}
