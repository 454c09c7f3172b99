package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time stands still until a caller
// waits: After advances the clock by the requested duration and returns a
// channel that is already readable. Code under test therefore runs at full
// speed while observing exactly the instants it asked to sleep until.
//
// FakeClock is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waits   []time.Duration
}

// Fake returns a FakeClock initialized to initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.current = f.current.Add(d)
	}
	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	ch <- f.current
	return ch
}

// Advance moves the clock forward by d without registering a wait.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Waits returns every duration passed to After, in call order.
func (f *FakeClock) Waits() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}
