package event

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer schedules callbacks onto a loop after a duration. Backed by a
// clock.Clock so tests drive timeouts with a mock clock.
type Timer struct {
	clock clock.Clock
	loop  *Loop
}

// NewTimer creates a timer service posting to the given loop.
func NewTimer(c clock.Clock, l *Loop) *Timer {
	if c == nil {
		c = clock.New()
	}
	return &Timer{clock: c, loop: l}
}

// ExpiresFromNow fires the callback on the loop once the duration has
// elapsed. There is no cancellation surface: callers that may outlive
// the deadline check their own state when the callback runs.
func (t *Timer) ExpiresFromNow(d time.Duration, fn func()) {
	t.clock.AfterFunc(d, func() {
		t.loop.Post(fn)
	})
}

// Clock exposes the underlying clock.
func (t *Timer) Clock() clock.Clock {
	return t.clock
}
