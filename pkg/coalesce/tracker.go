package coalesce

import (
	"fmt"
	"sync"
	"time"
)

// TimeoutTracker keeps a renewable deadline per key. It owns no timers: the
// current time is passed in, which makes every method deterministic.
// SweepScheduler drives it from a clock.
//
// A key is present if and only if it was enqueued and has not yet been swept
// or flushed. Re-enqueuing a present key moves its deadline to now+timeout.
//
// TimeoutTracker is safe for concurrent use; each call is one atomic
// read-modify-write.
type TimeoutTracker[K comparable] struct {
	timeout time.Duration

	mu        sync.Mutex
	deadlines map[K]time.Time
}

// NewTimeoutTracker returns an empty tracker with the given settle timeout.
func NewTimeoutTracker[K comparable](timeout time.Duration) (*TimeoutTracker[K], error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: timeout must be positive, got %v", ErrInvalidArgument, timeout)
	}
	return &TimeoutTracker[K]{
		timeout:   timeout,
		deadlines: make(map[K]time.Time),
	}, nil
}

// Timeout returns the settle timeout.
func (t *TimeoutTracker[K]) Timeout() time.Duration { return t.timeout }

// EnqueueAll sets the deadline of every key to now+timeout and returns the
// keys that were not tracked before the call. A key listed twice in keys is
// returned at most once.
func (t *TimeoutTracker[K]) EnqueueAll(keys []K, now time.Time) []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enqueueLocked(keys, now)
}

// SweepExpired removes and returns every key whose deadline is strictly
// before now. A key whose deadline equals now is still inside its window:
// a key renewed at t=60 with a 100ms timeout is not settled by the sweep at
// t=160, only by the next one. A "deadline <= now" rule would settle it at
// 160; the strict rule is the one that keeps that renewal example intact.
func (t *TimeoutTracker[K]) SweepExpired(now time.Time) []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sweepLocked(now)
}

// FlushAll removes and returns every tracked key regardless of deadline.
func (t *TimeoutTracker[K]) FlushAll() []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

// SnapshotKeys returns the currently tracked keys without modifying them.
func (t *TimeoutTracker[K]) SnapshotKeys() []K {
	t.mu.Lock()
	defer t.mu.Unlock()
	return keysOf(t.deadlines)
}

// Deadline returns the deadline of key and whether it is tracked.
func (t *TimeoutTracker[K]) Deadline(key K) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.deadlines[key]
	return d, ok
}

// Len returns the number of tracked keys.
func (t *TimeoutTracker[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.deadlines)
}

func (t *TimeoutTracker[K]) enqueueLocked(keys []K, now time.Time) []K {
	deadline := now.Add(t.timeout)
	var newlySeen []K
	for _, k := range keys {
		if _, ok := t.deadlines[k]; !ok {
			newlySeen = append(newlySeen, k)
		}
		t.deadlines[k] = deadline
	}
	return newlySeen
}

func (t *TimeoutTracker[K]) sweepLocked(now time.Time) []K {
	var settled []K
	for k, deadline := range t.deadlines {
		if deadline.Before(now) {
			settled = append(settled, k)
		}
	}
	for _, k := range settled {
		delete(t.deadlines, k)
	}
	return settled
}

func (t *TimeoutTracker[K]) flushLocked() []K {
	if len(t.deadlines) == 0 {
		return nil
	}
	all := keysOf(t.deadlines)
	t.deadlines = make(map[K]time.Time)
	return all
}
