// Package clock provides the monotonic NetworkClock that drives the event
// pump's timer source and the console's idle/cooldown
// timeouts. Cohesix has no wall-clock dependency in its hot path: every
// timeout is computed from ticks of this clock, the way a smoltcp `poll_at`
// deadline is computed from a monotonic instant rather than a calendar time.
//
// Grounded on dittofs's lock manager timeout fields (pkg/config
// LockConfig.BlockingTimeout/GracePeriodDuration) for the shape of a
// duration-driven deadline, generalized into a single shared clock object
// instead of ad-hoc time.Now() calls scattered across lock/lease code.
package clock

import (
	"sync/atomic"
	"time"
)

// NetworkClock is a monotonic clock advanced once per pump tick. All
// deadlines in Cohesix (auth cooldown, idle timeout) are
// expressed as a NetworkClock.Now() plus a duration, never as wall time.
type NetworkClock struct {
	start time.Time
	nowNs atomic.Int64
}

// New returns a NetworkClock anchored at the current monotonic time.
func New() *NetworkClock {
	c := &NetworkClock{start: time.Now()}
	c.nowNs.Store(0)
	return c
}

// Advance moves the clock forward by d, called once per pump tick from the
// hardware timer IRQ source. Must not be called concurrently with itself;
// the pump is single-threaded so this is always true in practice.
func (c *NetworkClock) Advance(d time.Duration) {
	c.nowNs.Add(int64(d))
}

// Now returns the current monotonic instant as a Deadline, comparable with
// other Deadlines produced by this clock.
func (c *NetworkClock) Now() Deadline {
	return Deadline(c.nowNs.Load())
}

// After returns a Deadline d past the current instant.
func (c *NetworkClock) After(d time.Duration) Deadline {
	return Deadline(c.nowNs.Load() + int64(d))
}

// WallTime converts a Deadline back to an absolute time.Time for logging,
// using the clock's start anchor. Never used for comparisons — only for
// human-readable audit/log output.
func (c *NetworkClock) WallTime(d Deadline) time.Time {
	return c.start.Add(time.Duration(d))
}

// Deadline is a monotonic instant relative to a NetworkClock's start. Zero
// value means "no deadline" when used as an optional field.
type Deadline int64

// Before reports whether d is strictly before other.
func (d Deadline) Before(other Deadline) bool { return d < other }

// After reports whether d is strictly after other.
func (d Deadline) After(other Deadline) bool { return d > other }

// IsZero reports whether d is the zero Deadline (no deadline set).
func (d Deadline) IsZero() bool { return d == 0 }

// Sub returns the duration between d and other (d - other).
func (d Deadline) Sub(other Deadline) time.Duration {
	return time.Duration(d - other)
}
