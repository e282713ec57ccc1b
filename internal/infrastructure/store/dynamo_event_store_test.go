package store

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The gsi sort keys are strings, so their lexicographic order must equal
// chronological order even when fractional seconds are zero.
func TestDynamoTimeFormat_LexicographicOrderIsChronological(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	times := []time.Time{
		base.Add(500 * time.Millisecond),
		base, // second-aligned: RFC3339Nano would encode this with no fraction
		base.Add(-time.Second),
		base.Add(time.Nanosecond),
	}

	encoded := make([]string, len(times))
	for i, ts := range times {
		encoded[i] = ts.Format(dynamoTimeFormat)
	}
	sort.Strings(encoded)

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i, ts := range times {
		assert.Equal(t, ts.Format(dynamoTimeFormat), encoded[i])
	}
}

func TestDynamoTimeFormat_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 5, 123456789, time.UTC)

	parsed, err := time.Parse(dynamoTimeFormat, ts.Format(dynamoTimeFormat))

	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))
}
