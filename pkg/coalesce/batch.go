package coalesce

import (
	"fmt"
	"sync"

	"github.com/juju/clock"
)

// BatchCoordinator implements the FixedDelay policy: it accumulates unique
// keys, arms exactly one deferred flush when the first key of a window
// arrives, and delivers the accumulated set once when the delay elapses.
//
// BatchCoordinator is safe for concurrent use.
type BatchCoordinator[K comparable] struct {
	cfg      Config
	notifier Notifier[K]

	mu      sync.Mutex
	pending map[K]struct{}
	timer   clock.Timer // non-nil while armed
	gen     uint64      // incremented on every arm; stale callbacks compare against it
	stopped bool

	deliverMu sync.Mutex
	inflight  sync.WaitGroup
}

// NewBatchCoordinator returns a BatchCoordinator that flushes cfg.BatchDelay
// after the first key of each window. cfg.Policy is ignored.
func NewBatchCoordinator[K comparable](cfg Config, notifier Notifier[K]) (*BatchCoordinator[K], error) {
	cfg.Policy = FixedDelay
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is required", ErrInvalidArgument)
	}
	return &BatchCoordinator[K]{
		cfg:      cfg.withDefaults(),
		notifier: notifier,
		pending:  make(map[K]struct{}),
	}, nil
}

// Enqueue adds key to the current window.
func (b *BatchCoordinator[K]) Enqueue(key K) {
	b.EnqueueAll([]K{key})
}

// EnqueueAll adds keys to the current window, arming the flush timer if the
// window was empty. A nil or empty slice is a no-op: it arms nothing and
// reports no error.
func (b *BatchCoordinator[K]) EnqueueAll(keys []K) {
	if len(keys) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		b.cfg.Logger.Debug("coalesce: enqueue after stop ignored",
			"engine", b.cfg.Name, "keys", len(keys))
		return
	}
	for _, k := range keys {
		b.pending[k] = struct{}{}
	}
	b.cfg.Metrics.enqueued(b.cfg.Name, len(keys))
	b.cfg.Metrics.tracked(b.cfg.Name, len(b.pending))

	if b.timer == nil {
		b.gen++
		gen := b.gen
		b.inflight.Add(1)
		b.timer = b.cfg.Clock.AfterFunc(b.cfg.BatchDelay, func() { b.fire(gen) })
	}
}

// Flush cancels the armed timer and delivers the current window now, on the
// calling goroutine. It returns the delivered keys (nil if nothing was
// pending).
func (b *BatchCoordinator[K]) Flush() []K {
	b.mu.Lock()
	b.cancelLocked()
	batch := b.drainLocked()
	b.mu.Unlock()

	b.handle(batch)
	return batch
}

// Pending returns a copy of the keys accumulated in the current window.
func (b *BatchCoordinator[K]) Pending() []K {
	b.mu.Lock()
	defer b.mu.Unlock()
	return keysOf(b.pending)
}

// Armed reports whether a flush timer is outstanding.
func (b *BatchCoordinator[K]) Armed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// Stop cancels any outstanding timer, discards pending keys and waits for an
// in-flight delivery to return. Later calls to EnqueueAll are ignored.
func (b *BatchCoordinator[K]) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.cancelLocked()
	dropped := len(b.pending)
	b.pending = make(map[K]struct{})
	b.mu.Unlock()

	b.inflight.Wait()
	b.cfg.Metrics.tracked(b.cfg.Name, 0)
	if dropped > 0 {
		b.cfg.Logger.Debug("coalesce: stopped with pending keys discarded",
			"engine", b.cfg.Name, "keys", dropped)
	}
}

// fire runs on the clock's goroutine when the window of generation gen ends.
func (b *BatchCoordinator[K]) fire(gen uint64) {
	defer b.inflight.Done()

	b.mu.Lock()
	if b.timer == nil || gen != b.gen {
		// Superseded by Flush or Stop.
		b.mu.Unlock()
		return
	}
	batch := b.drainLocked()
	b.mu.Unlock()

	b.handle(batch)
}

// cancelLocked stops the armed timer. If the timer had not fired its callback
// will never run, so its inflight slot is released here.
func (b *BatchCoordinator[K]) cancelLocked() {
	if b.timer == nil {
		return
	}
	if b.timer.Stop() {
		b.inflight.Done()
	}
	b.timer = nil
}

// drainLocked swaps out the pending set and disarms.
func (b *BatchCoordinator[K]) drainLocked() []K {
	b.timer = nil
	if len(b.pending) == 0 {
		return nil
	}
	batch := keysOf(b.pending)
	b.pending = make(map[K]struct{})
	b.cfg.Metrics.tracked(b.cfg.Name, 0)
	return batch
}

func (b *BatchCoordinator[K]) handle(batch []K) {
	if len(batch) == 0 {
		return
	}
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	deliver(&b.cfg, KindBatch, batch, b.notifier.Handle)
}
