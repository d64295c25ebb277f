package coalesce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testTimeout = 100 * time.Millisecond
	testRes     = 10 * time.Millisecond
)

func newSweep(t *testing.T, clk *testclock.Clock, n Notifier[string]) *SweepScheduler[string] {
	t.Helper()
	s, err := NewSweepScheduler[string](Config{
		Name:           "test",
		Timeout:        testTimeout,
		PollResolution: testRes,
		Clock:          clk,
		Logger:         quietLogger(),
	}, n)
	if err != nil {
		t.Fatalf("NewSweepScheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

// tickTo advances clk one poll period at a time until it has moved by total.
func tickTo(t *testing.T, clk *testclock.Clock, total time.Duration) {
	t.Helper()
	for moved := time.Duration(0); moved < total; moved += testRes {
		advance(t, clk, testRes)
	}
}

func TestSweepScheduler_StartsIdle(t *testing.T) {
	clk := testclock.NewClock(epoch)
	s := newSweep(t, clk, newRecorder[string]())

	if s.Armed() {
		t.Error("Armed: got true before any enqueue")
	}
	if err := clk.WaitAdvance(testRes, 20*time.Millisecond, 1); err == nil {
		t.Error("idle scheduler registered a timer")
	}
}

func TestSweepScheduler_SettlesAfterDeadline(t *testing.T) {
	clk := testclock.NewClock(epoch)
	rec := newRecorder[string]()
	s := newSweep(t, clk, rec)

	assertKeys(t, s.EnqueueAll([]string{"k1"}), "k1")
	if !s.Armed() {
		t.Fatal("Armed: got false after enqueue")
	}

	// Deadline is t=100; the tick at t=100 is still inside the window.
	tickTo(t, clk, 100*time.Millisecond)
	rec.expectNone(t)

	advance(t, clk, testRes) // t=110
	d := rec.next(t)
	if !d.events || !d.determinate {
		t.Errorf("settled delivery: got events=%v determinate=%v, want true true", d.events, d.determinate)
	}
	assertKeys(t, d.keys, "k1")

	eventually(t, "scheduler to disarm", func() bool { return !s.Armed() })
	if err := clk.WaitAdvance(testRes, 50*time.Millisecond, 1); err == nil {
		t.Error("disarmed scheduler still has a timer")
	}
	if n := s.Tracker().Len(); n != 0 {
		t.Errorf("Len after settle: got %d, want 0", n)
	}
}

func TestSweepScheduler_RenewalPostponesSettlement(t *testing.T) {
	clk := testclock.NewClock(epoch)
	rec := newRecorder[string]()
	s := newSweep(t, clk, rec)

	s.EnqueueAll([]string{"k"})
	for i := 0; i < 6; i++ {
		tickTo(t, clk, 50*time.Millisecond)
		if got := s.EnqueueAll([]string{"k"}); len(got) != 0 {
			t.Fatalf("renewal %d reported %v as new", i, got)
		}
	}
	rec.expectNone(t)

	// Last renewal at t=300, so settlement lands on the t=410 tick.
	tickTo(t, clk, 110*time.Millisecond)
	assertKeys(t, rec.next(t).keys, "k")
}

func TestSweepScheduler_RearmsAfterIdle(t *testing.T) {
	clk := testclock.NewClock(epoch)
	rec := newRecorder[string]()
	s := newSweep(t, clk, rec)

	s.EnqueueAll([]string{"a"})
	tickTo(t, clk, 110*time.Millisecond)
	assertKeys(t, rec.next(t).keys, "a")
	eventually(t, "scheduler to disarm", func() bool { return !s.Armed() })

	assertKeys(t, s.EnqueueAll([]string{"a"}), "a")
	if !s.Armed() {
		t.Fatal("Armed: got false after enqueue on idle scheduler")
	}
	tickTo(t, clk, 110*time.Millisecond)
	assertKeys(t, rec.next(t).keys, "a")
}

func TestSweepScheduler_Flush(t *testing.T) {
	clk := testclock.NewClock(epoch)
	rec := newRecorder[string]()
	s := newSweep(t, clk, rec)

	s.EnqueueAll([]string{"a", "b"})
	assertKeys(t, s.Flush(), "a", "b")

	d := rec.next(t)
	if !d.determinate {
		t.Error("flushed keys delivered as provisional")
	}
	assertKeys(t, d.keys, "a", "b")

	// The next tick finds nothing and disarms.
	advance(t, clk, testRes)
	eventually(t, "scheduler to disarm", func() bool { return !s.Armed() })
	rec.expectNone(t)

	if got := s.Flush(); len(got) != 0 {
		t.Errorf("second Flush: got %v, want none", got)
	}
	rec.expectNone(t)
}

func TestSweepScheduler_StopKeepsEntries(t *testing.T) {
	clk := testclock.NewClock(epoch)
	rec := newRecorder[string]()
	s := newSweep(t, clk, rec)

	s.EnqueueAll([]string{"a"})
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	clk.Advance(time.Second)
	rec.expectNone(t)
	assertKeys(t, s.Tracker().SnapshotKeys(), "a")

	if got := s.EnqueueAll([]string{"b"}); got != nil {
		t.Errorf("EnqueueAll after Stop: got %v, want nil", got)
	}
}

func TestSweepScheduler_NotifierPanicIsContained(t *testing.T) {
	clk := testclock.NewClock(epoch)
	m := NewMetrics()
	got := make(chan []string, 1)
	var n atomic.Int32

	s, err := NewSweepScheduler[string](Config{
		Name:           "panicky",
		Timeout:        testTimeout,
		PollResolution: testRes,
		Clock:          clk,
		Logger:         quietLogger(),
		Metrics:        m,
	}, Funcs[string]{OnEvents: func(batch []string, determinate bool) {
		if n.Add(1) == 1 {
			panic("consumer exploded")
		}
		got <- batch
	}})
	if err != nil {
		t.Fatalf("NewSweepScheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })

	s.EnqueueAll([]string{"a"})
	tickTo(t, clk, testTimeout+testRes)
	eventually(t, "panic to be counted", func() bool {
		return testutil.ToFloat64(m.notifierPanics.WithLabelValues("panicky")) == 1
	})
	eventually(t, "scheduler to disarm", func() bool { return !s.Armed() })

	// The worker survived: a later key still settles.
	s.EnqueueAll([]string{"b"})
	tickTo(t, clk, testTimeout+testRes)
	select {
	case batch := <-got:
		assertKeys(t, batch, "b")
	case <-time.After(2 * time.Second):
		t.Fatal("settling stopped after a notifier panic")
	}
	if v := testutil.ToFloat64(m.deliveredKeys.WithLabelValues("panicky", KindSettled)); v != 1 {
		t.Errorf("delivered_keys_total: got %v, want 1", v)
	}
}
