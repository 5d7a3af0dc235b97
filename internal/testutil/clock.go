package testutil

import "sync"

// FakeClock is a manually driven millisecond clock for tests.
//
// Unlike clock.System, FakeClock only moves when told to. NowMillis returns
// the current value and then advances by Step (1 by default), so
// consecutive writes get distinct local update times.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewFakeClock creates a clock starting at start.
func NewFakeClock(start int64) *FakeClock {
	return &FakeClock{now: start, step: 1}
}

// NowMillis returns the current time and advances by the step.
func (c *FakeClock) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.now
	c.now += c.step
	return v
}

// Current returns the current time without advancing.
func (c *FakeClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by ms.
func (c *FakeClock) Advance(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

// Set moves the clock to ms. Tests use it to simulate skewed peers.
func (c *FakeClock) Set(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ms
}

// SetStep changes how far each NowMillis call advances the clock.
func (c *FakeClock) SetStep(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = ms
}
