package console

import (
	"time"

	"github.com/cohesix/root/internal/clock"
)

// AuthLimiter is the console's leaky-bucket AUTH rate limiter: spec.md
// §4.8 tolerates 2 failures within a window before the 3rd triggers a
// cooldown during which every AUTH attempt is rejected outright.
//
// Grounded on internal/clock's Deadline abstraction (no wall-clock calls;
// every timeout is relative to the shared NetworkClock, consistent with
// the pump's single monotonic time source).
type AuthLimiter struct {
	clk            *clock.NetworkClock
	maxFailures    int
	failureWindow  time.Duration
	cooldownPeriod time.Duration

	failures     int
	windowStart  clock.Deadline
	cooldownUtil clock.Deadline
}

// NewAuthLimiter builds a limiter keyed to clk, tolerating maxFailures
// within failureWindow before imposing cooldownPeriod.
func NewAuthLimiter(clk *clock.NetworkClock, maxFailures int, failureWindow, cooldownPeriod time.Duration) *AuthLimiter {
	return &AuthLimiter{
		clk:            clk,
		maxFailures:    maxFailures,
		failureWindow:  failureWindow,
		cooldownPeriod: cooldownPeriod,
	}
}

// InCooldown reports whether an AUTH attempt right now must be rejected
// without even checking the token.
func (l *AuthLimiter) InCooldown() bool {
	return !l.cooldownUtil.IsZero() && l.clk.Now().Before(l.cooldownUtil)
}

// RecordFailure registers one failed AUTH attempt, starting or extending
// the failure window and entering cooldown once maxFailures is exceeded
// within the window.
func (l *AuthLimiter) RecordFailure() {
	now := l.clk.Now()
	if l.failures == 0 || now.Sub(l.windowStart) > l.failureWindow {
		l.windowStart = now
		l.failures = 0
	}
	l.failures++
	if l.failures > l.maxFailures {
		l.cooldownUtil = l.clk.After(l.cooldownPeriod)
	}
}

// RecordSuccess clears the failure window — a successful AUTH resets the
// bucket entirely.
func (l *AuthLimiter) RecordSuccess() {
	l.failures = 0
	l.windowStart = 0
	l.cooldownUtil = 0
}
