package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mrz1836/statekit/internal/clock"
)

func TestRealClock(t *testing.T) {
	t.Parallel()

	c := clock.RealClock{}
	before := time.Now()
	got := c.Now()
	after := time.Now()

	assert.False(t, got.Before(before))
	assert.False(t, got.After(after))
}

func TestMillis(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 678_000_000, time.UTC)
	assert.Equal(t, ts.UnixMilli(), clock.Millis(ts))
	assert.Equal(t, int64(0), clock.Millis(time.Unix(0, 0)))
}
