package coalesce

import (
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// delivery is one notifier call captured by recorder.
type delivery[K comparable] struct {
	keys        []K
	events      bool // HandleEvents rather than Handle
	determinate bool
}

// recorder is a Notifier that forwards every call to a channel.
type recorder[K comparable] struct {
	ch chan delivery[K]
}

func newRecorder[K comparable]() *recorder[K] {
	return &recorder[K]{ch: make(chan delivery[K], 64)}
}

func (r *recorder[K]) Handle(batch []K) {
	r.ch <- delivery[K]{keys: batch}
}

func (r *recorder[K]) HandleEvents(batch []K, determinate bool) {
	r.ch <- delivery[K]{keys: batch, events: true, determinate: determinate}
}

// next waits for the next delivery.
func (r *recorder[K]) next(t *testing.T) delivery[K] {
	t.Helper()
	select {
	case d := <-r.ch:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery within 2s")
	}
	return delivery[K]{}
}

// expectNone fails if a delivery arrives within a short grace period.
func (r *recorder[K]) expectNone(t *testing.T) {
	t.Helper()
	select {
	case d := <-r.ch:
		t.Fatalf("unexpected delivery: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

// advance waits for one timer to be registered on clk, then moves it by d.
func advance(t *testing.T, clk *testclock.Clock, d time.Duration) {
	t.Helper()
	if err := clk.WaitAdvance(d, time.Second, 1); err != nil {
		t.Fatalf("WaitAdvance(%v): %v", d, err)
	}
}

// eventually polls cond until it holds or a second has passed.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func assertKeys(t *testing.T, got []string, want ...string) {
	t.Helper()
	g := slices.Clone(got)
	w := slices.Clone(want)
	slices.Sort(g)
	slices.Sort(w)
	if !slices.Equal(g, w) {
		t.Errorf("keys: got %v, want %v", g, w)
	}
}
