package testutil

import "sync"

// DefaultEpochMs is the first timestamp of a DeterministicClock: 2024-01-01.
const DefaultEpochMs uint64 = 1704067200000

// DeterministicClock is a thread-safe logical clock for particle timestamps.
//
// Every call to NowMs advances the clock by a fixed step, so the same
// scenario always stamps its particles with the same values.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start uint64
	step  uint64
	now   uint64
}

// NewDeterministicClock creates a clock starting at DefaultEpochMs that
// advances one second per reading.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpochMs, 1000)
}

// NewDeterministicClockAt creates a clock whose first reading is start.
func NewDeterministicClockAt(start, step uint64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start}
}

// NowMs returns the current time and advances the clock.
func (c *DeterministicClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.step
	return now
}

// Current returns the next reading without advancing.
func (c *DeterministicClock) Current() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Reset rewinds the clock to its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}
