package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLive(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	assert.True(t, Live(time.Time{}, now), "zero expiry never lapses")
	assert.True(t, Live(now.Add(time.Minute), now))
	assert.False(t, Live(now.Add(-time.Minute), now))
	assert.False(t, Live(now, now), "expiry instant itself is lapsed")
}

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 5, 1, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Duration(0), Remaining(time.Time{}, now))
	assert.Equal(t, 5*time.Minute, Remaining(now.Add(5*time.Minute), now))
	assert.Equal(t, time.Duration(0), Remaining(now.Add(-time.Second), now))
}
