package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant a DeterministicClock reports before its first tick.
var Epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock provides a thread-safe monotonic clock for tests.
//
// Each call to Now advances the clock by a fixed step from Epoch, so the same
// scenario produces identical change timestamps on every run. A zero step
// freezes the clock, which is how tests force timestamp ties.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	seq  int64
	step time.Duration
}

// NewDeterministicClock creates a clock that advances one second per tick.
//
// The first call to Now() returns Epoch plus one second.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{step: time.Second}
}

// NewFrozenClock creates a clock that always returns Epoch.
func NewFrozenClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Next increments and returns the tick count.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Now advances the clock and returns the new instant.
// Matches store.Clock, so it can be passed to store.WithClock directly.
func (c *DeterministicClock) Now() time.Time {
	n := c.Next()
	return Epoch.Add(time.Duration(n) * c.step)
}

// Current returns the tick count without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset resets the clock to Epoch.
//
// Used for test reuse. After Reset(), the next call to Next() returns 1.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}
