package coalesce

import (
	"fmt"
	"sync"

	"gopkg.in/tomb.v2"
)

// SweepScheduler drives the expiry sweep of one TimeoutTracker.
//
// It is IDLE (no timer, its goroutine parked) until an EnqueueAll makes the
// tracker non-empty, ARMED (a PollResolution timer, re-armed after each tick)
// while keys are tracked, and back to IDLE when a tick observes an empty
// tracker. Arming is decided under the tracker's mutex, so there is never
// more than one timer per instance.
type SweepScheduler[K comparable] struct {
	cfg      Config
	tracker  *TimeoutTracker[K]
	notifier Notifier[K]

	tomb tomb.Tomb
	wake chan struct{}

	// Guarded by tracker.mu.
	armed   bool
	stopped bool

	deliverMu sync.Mutex
}

// NewSweepScheduler starts a scheduler over a new tracker with cfg.Timeout.
// cfg.Policy is ignored. The caller must call Stop to release the worker
// goroutine.
func NewSweepScheduler[K comparable](cfg Config, notifier Notifier[K]) (*SweepScheduler[K], error) {
	cfg.Policy = PerKeyDeadline
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is required", ErrInvalidArgument)
	}
	tracker, err := NewTimeoutTracker[K](cfg.Timeout)
	if err != nil {
		return nil, err
	}

	s := &SweepScheduler[K]{
		cfg:      cfg.withDefaults(),
		tracker:  tracker,
		notifier: notifier,
		wake:     make(chan struct{}, 1),
	}
	s.tomb.Go(s.loop)
	return s, nil
}

// Tracker returns the tracker this scheduler sweeps.
func (s *SweepScheduler[K]) Tracker() *TimeoutTracker[K] { return s.tracker }

// EnqueueAll records or renews keys at the clock's current time, arms the
// sweep timer if the scheduler was idle, and returns the newly seen keys.
// It does not notify; see Engine for the provisional notification.
func (s *SweepScheduler[K]) EnqueueAll(keys []K) []K {
	if len(keys) == 0 {
		return nil
	}

	t := s.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.stopped {
		s.cfg.Logger.Debug("coalesce: enqueue after stop ignored",
			"engine", s.cfg.Name, "keys", len(keys))
		return nil
	}

	newlySeen := t.enqueueLocked(keys, s.cfg.Clock.Now())
	s.cfg.Metrics.enqueued(s.cfg.Name, len(keys))
	s.cfg.Metrics.tracked(s.cfg.Name, len(t.deadlines))

	if !s.armed && len(t.deadlines) > 0 {
		s.armed = true
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return newlySeen
}

// EnqueueAllNotify is EnqueueAll followed by the provisional notification
// of the newly seen keys. It holds the delivery lock across both steps, so a
// settled or flushed notice for a key cannot start before that key's
// provisional notice has returned.
func (s *SweepScheduler[K]) EnqueueAllNotify(keys []K) []K {
	if len(keys) == 0 {
		return nil
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	newlySeen := s.EnqueueAll(keys)
	deliver(&s.cfg, KindProvisional, newlySeen, func(b []K) { s.notifier.HandleEvents(b, false) })
	return newlySeen
}

// Flush removes every tracked key and delivers them as determinate events.
// The timer stays armed until the next tick finds the tracker empty.
func (s *SweepScheduler[K]) Flush() []K {
	t := s.tracker
	t.mu.Lock()
	all := t.flushLocked()
	t.mu.Unlock()

	s.cfg.Metrics.tracked(s.cfg.Name, 0)
	s.deliver(KindFlushed, all)
	return all
}

// Armed reports whether the sweep timer is running.
func (s *SweepScheduler[K]) Armed() bool {
	s.tracker.mu.Lock()
	defer s.tracker.mu.Unlock()
	return s.armed
}

// Kill asks the worker to stop without waiting.
func (s *SweepScheduler[K]) Kill() {
	s.tracker.mu.Lock()
	s.stopped = true
	s.tracker.mu.Unlock()
	s.tomb.Kill(nil)
}

// Wait blocks until the worker has exited.
func (s *SweepScheduler[K]) Wait() error {
	return s.tomb.Wait()
}

// Stop cancels the timer and waits for an in-flight tick to finish. Tracked
// keys are left in place and no settled notification is emitted for them.
func (s *SweepScheduler[K]) Stop() error {
	s.Kill()
	return s.Wait()
}

func (s *SweepScheduler[K]) loop() error {
	for {
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-s.wake:
		}
		if err := s.runArmed(); err != nil {
			return err
		}
	}
}

// runArmed ticks every PollResolution until a tick disarms the scheduler.
func (s *SweepScheduler[K]) runArmed() error {
	timer := s.cfg.Clock.NewTimer(s.cfg.PollResolution)
	defer timer.Stop()

	for {
		select {
		case <-s.tomb.Dying():
			return tomb.ErrDying
		case <-timer.Chan():
			if !s.tick() {
				return nil
			}
			timer.Reset(s.cfg.PollResolution)
		}
	}
}

// tick sweeps once and reports whether the scheduler is still armed.
func (s *SweepScheduler[K]) tick() bool {
	select {
	case <-s.tomb.Dying():
		return false
	default:
	}

	t := s.tracker
	t.mu.Lock()
	settled := t.sweepLocked(s.cfg.Clock.Now())
	remaining := len(t.deadlines)
	if remaining == 0 {
		s.armed = false
	}
	armed := s.armed
	t.mu.Unlock()

	s.cfg.Metrics.tracked(s.cfg.Name, remaining)
	if len(settled) > 0 {
		s.cfg.Logger.Debug("coalesce: keys settled",
			"engine", s.cfg.Name, "settled", len(settled), "remaining", remaining)
	}
	s.deliver(KindSettled, settled)
	return armed
}

func (s *SweepScheduler[K]) deliver(kind string, batch []K) {
	if len(batch) == 0 {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	deliver(&s.cfg, kind, batch, func(b []K) { s.notifier.HandleEvents(b, true) })
}
