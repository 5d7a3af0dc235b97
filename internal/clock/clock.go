// Package clock provides the millisecond clock that stamps local writes.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time as Unix epoch milliseconds.
type Clock interface {
	NowMillis() int64
}

// System is a wall clock that never runs backwards and never returns the
// same value twice, so local update times are strictly increasing even when
// several writes land in one millisecond or the system clock is adjusted.
//
// Thread-safety: System is safe for concurrent use (atomic operations).
type System struct {
	last atomic.Int64
	now  func() time.Time
}

// NewSystem creates a clock reading time.Now.
func NewSystem() *System {
	return &System{now: time.Now}
}

// NowMillis returns max(wall clock, previous value + 1).
// Calls are linearizable: each call returns a unique, increasing value.
func (c *System) NowMillis() int64 {
	for {
		prev := c.last.Load()
		next := c.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if c.last.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Last returns the most recent value handed out without advancing.
func (c *System) Last() int64 {
	return c.last.Load()
}

// Func adapts a plain function to a Clock.
type Func func() int64

// NowMillis implements Clock.
func (f Func) NowMillis() int64 { return f() }
