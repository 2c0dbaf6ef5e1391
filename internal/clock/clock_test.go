package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceMovesNow(t *testing.T) {
	c := New()
	start := c.Now()

	c.Advance(5 * time.Second)

	assert.True(t, start.Before(c.Now()))
	assert.Equal(t, 5*time.Second, c.Now().Sub(start))
}

func TestAfterProducesFutureDeadline(t *testing.T) {
	c := New()
	d := c.After(90 * time.Second)

	assert.True(t, c.Now().Before(d))

	c.Advance(90 * time.Second)
	assert.False(t, c.Now().Before(d))
}

func TestZeroDeadlineIsZero(t *testing.T) {
	var d Deadline
	assert.True(t, d.IsZero())

	c := New()
	assert.False(t, c.After(time.Second).IsZero())
}

func TestWallTimeAdvancesWithClock(t *testing.T) {
	c := New()
	before := c.WallTime(c.Now())

	c.Advance(time.Minute)
	after := c.WallTime(c.Now())

	assert.True(t, after.After(before))
	assert.Equal(t, time.Minute, after.Sub(before))
}
