package store

import (
	"sync"
	"testing"
	"time"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecord_Accumulates(t *testing.T) {
	st := New(5 * time.Minute)
	st.now = fixedClock(base)
	st.Record("agent-1", "b1", 3)

	st.now = fixedClock(base.Add(time.Minute))
	st.Record("agent-1", "b2", 4)

	p, ok := st.Get("agent-1")
	if !ok {
		t.Fatal("Get: expected record, got none")
	}
	if p.Batches != 2 || p.Events != 7 || p.LastBatchID != "b2" {
		t.Errorf("record: got %+v", p)
	}
	if !p.FirstSeen.Equal(base) || !p.LastSeen.Equal(base.Add(time.Minute)) {
		t.Errorf("times: first %v last %v", p.FirstSeen, p.LastSeen)
	}
}

func TestRecord_EmptySource(t *testing.T) {
	st := New(time.Minute)
	st.Record("", "", 1)
	if _, ok := st.Get("unknown"); !ok {
		t.Error("empty source not recorded as unknown")
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	st := New(time.Minute)
	st.Record("a", "b1", 1)
	p, _ := st.Get("a")
	p.Events = 100
	if q, _ := st.Get("a"); q.Events != 1 {
		t.Errorf("stored record mutated through copy: %+v", q)
	}
}

func TestList_ExcludesStaleAndSorts(t *testing.T) {
	st := New(5 * time.Minute)
	st.now = fixedClock(base)
	st.Record("zeta", "", 1)
	st.Record("old", "", 1)

	st.now = fixedClock(base.Add(4 * time.Minute))
	st.Record("alpha", "", 1)
	st.Record("zeta", "", 1)

	st.now = fixedClock(base.Add(6 * time.Minute))
	list := st.List()
	if len(list) != 2 || list[0].Source != "alpha" || list[1].Source != "zeta" {
		t.Errorf("List: got %+v", list)
	}
	if st.Count() != 3 {
		t.Errorf("Count: got %d, want 3 (stale not yet evicted)", st.Count())
	}
}

func TestEvict(t *testing.T) {
	st := New(5 * time.Minute)
	st.now = fixedClock(base)
	st.Record("old", "", 1)
	st.now = fixedClock(base.Add(3 * time.Minute))
	st.Record("new", "", 1)

	if n := st.Evict(base.Add(5 * time.Minute)); n != 1 {
		t.Errorf("Evict: got %d, want 1", n)
	}
	if _, ok := st.Get("old"); ok {
		t.Error("old producer still present")
	}
	if _, ok := st.Get("new"); !ok {
		t.Error("new producer evicted")
	}
}

func TestConcurrentRecord(t *testing.T) {
	st := New(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.Record("shared", "", 1)
			}
		}()
	}
	wg.Wait()
	if p, _ := st.Get("shared"); p.Events != 800 || p.Batches != 800 {
		t.Errorf("record: got %+v", p)
	}
}
