package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	c := NewManualClock(start)
	assert.Equal(t, start, c.Now())

	c.Advance(15 * time.Second)
	assert.Equal(t, start.Add(15*time.Second), c.Now())

	c.Advance(time.Minute)
	assert.Equal(t, start.Add(75*time.Second), c.Now())
}
