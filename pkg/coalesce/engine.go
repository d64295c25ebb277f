package coalesce

import (
	"fmt"
	"sync"
)

// Engine is the single entry point over both policies. Producers call
// Enqueue/EnqueueAll from any goroutine; the Notifier is driven from the
// engine's own timer goroutine (and, for provisional keys, from the
// producer's goroutine, outside the tracker lock but under the delivery lock).
type Engine[K comparable] struct {
	cfg      Config
	notifier Notifier[K]

	batch *BatchCoordinator[K]
	sweep *SweepScheduler[K]

	stopOnce sync.Once
	stopErr  error
}

// New validates cfg and starts an Engine for cfg.Policy.
func New[K comparable](cfg Config, notifier Notifier[K]) (*Engine[K], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is required", ErrInvalidArgument)
	}
	cfg = cfg.withDefaults()

	e := &Engine[K]{cfg: cfg, notifier: notifier}
	var err error
	switch cfg.Policy {
	case FixedDelay:
		e.batch, err = NewBatchCoordinator[K](cfg, notifier)
	case PerKeyDeadline:
		e.sweep, err = NewSweepScheduler[K](cfg, notifier)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Name returns the configured engine name.
func (e *Engine[K]) Name() string { return e.cfg.Name }

// Policy returns the engine's policy.
func (e *Engine[K]) Policy() Policy { return e.cfg.Policy }

// Enqueue is EnqueueAll for a single key.
func (e *Engine[K]) Enqueue(key K) []K {
	return e.EnqueueAll([]K{key})
}

// EnqueueAll hands keys to the engine.
//
// Under PerKeyDeadline it returns the keys seen for the first time and
// delivers them as provisional (HandleEvents(newlySeen, false)) before
// returning. The provisional call is serialized with settled and flushed
// deliveries, so a consumer always sees a key's provisional notice finish
// before its determinate one begins. Under FixedDelay it returns nil.
//
// A nil or empty keys slice is a no-op: nothing is armed or delivered and no
// error is reported, since Go does not tell a nil slice from an empty one.
func (e *Engine[K]) EnqueueAll(keys []K) []K {
	if e.batch != nil {
		e.batch.EnqueueAll(keys)
		return nil
	}
	return e.sweep.EnqueueAllNotify(keys)
}

// Flush forces delivery of everything pending and returns it: the current
// window under FixedDelay, every tracked key (as determinate) under
// PerKeyDeadline.
func (e *Engine[K]) Flush() []K {
	if e.batch != nil {
		return e.batch.Flush()
	}
	return e.sweep.Flush()
}

// Pending returns a read-only copy of the keys not yet delivered as final.
func (e *Engine[K]) Pending() []K {
	if e.batch != nil {
		return e.batch.Pending()
	}
	return e.sweep.Tracker().SnapshotKeys()
}

// Len returns the number of pending keys.
func (e *Engine[K]) Len() int {
	if e.batch != nil {
		e.batch.mu.Lock()
		defer e.batch.mu.Unlock()
		return len(e.batch.pending)
	}
	return e.sweep.Tracker().Len()
}

// Armed reports whether the engine currently has a timer outstanding.
func (e *Engine[K]) Armed() bool {
	if e.batch != nil {
		return e.batch.Armed()
	}
	return e.sweep.Armed()
}

// Stop releases the engine's timer and goroutine. It is safe to call more
// than once; keys enqueued afterwards are ignored.
func (e *Engine[K]) Stop() error {
	e.stopOnce.Do(func() {
		if e.batch != nil {
			e.batch.Stop()
			return
		}
		e.stopErr = e.sweep.Stop()
	})
	return e.stopErr
}
