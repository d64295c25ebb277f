package api_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/server/internal/api"
	"github.com/casewatch/casewatch/server/internal/refresh"
	"github.com/casewatch/casewatch/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

// collect is a refresh.Sink that keeps every message.
type collect struct {
	mu   sync.Mutex
	msgs []refresh.Message
}

func (c *collect) Publish(m refresh.Message) {
	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

func (c *collect) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Event
	}
	return out
}

type fixedCount int

func (n fixedCount) Count() int { return int(n) }

// newHandler wires the API to a real aggregator whose timers never fire
// during a test.
func newHandler(t *testing.T) (http.Handler, *refresh.Aggregator, *store.Store, *collect) {
	t.Helper()
	sink := &collect{}
	agg, err := refresh.New(refresh.Config{
		Tree: coalesce.Config{
			Policy:         coalesce.PerKeyDeadline,
			Timeout:        time.Hour,
			PollResolution: time.Hour,
		},
		Results: coalesce.Config{Policy: coalesce.FixedDelay, BatchDelay: time.Hour},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, sink)
	if err != nil {
		t.Fatalf("refresh.New: %v", err)
	}
	t.Cleanup(func() { _ = agg.Stop() })

	st := store.New(5 * time.Minute)
	return api.New(agg, st, fixedCount(2)), agg, st, sink
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	h.ServeHTTP(rr, httptest.NewRequest(method, path, r))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

const twoFiles = `{"source":"curl","batch_id":"b1","events":[
	{"kind":"file","type_id":1,"data_source_id":3},
	{"kind":"file","type_id":1,"data_source_id":3},
	{"kind":"tag","type_id":2,"data_source_id":3},
	{"kind":"file","type_id":4,"data_source_id":0}
]}`

// --- tests ------------------------------------------------------------------

func TestEvents_Enqueues(t *testing.T) {
	h, _, st, sink := newHandler(t)

	rr := do(t, h, http.MethodPost, "/api/v1/events", twoFiles)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rr.Code, rr.Body.String())
	}
	var resp api.EventsResponse
	decode(t, rr, &resp)
	if resp.Accepted != 3 || resp.NewlySeen != 2 || resp.Ignored != 1 {
		t.Errorf("response: got %+v", resp)
	}

	if p, ok := st.Get("curl"); !ok || p.Events != 4 {
		t.Errorf("producer record: got %+v, %v", p, ok)
	}
	if ev := sink.events(); len(ev) != 1 || ev[0] != refresh.EventTree {
		t.Errorf("published: got %v, want one provisional tree message", ev)
	}
}

func TestEvents_BadRequests(t *testing.T) {
	h, _, _, _ := newHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{"},
		{"no events", `{"events":[]}`},
		{"unknown kind", `{"events":[{"kind":"registry"}]}`},
	}
	for _, tt := range tests {
		rr := do(t, h, http.MethodPost, "/api/v1/events", tt.body)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status got %d, want 400", tt.name, rr.Code)
		}
		var e map[string]string
		decode(t, rr, &e)
		if e["error"] == "" {
			t.Errorf("%s: missing error message", tt.name)
		}
	}
}

func TestPendingAndIngestComplete(t *testing.T) {
	h, _, _, sink := newHandler(t)
	do(t, h, http.MethodPost, "/api/v1/events", twoFiles)

	var pending api.PendingResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/pending", ""), &pending)
	if len(pending.Tree) != 2 || len(pending.Results) != 2 {
		t.Errorf("pending: got %+v", pending)
	}

	var flush api.FlushResponse
	decode(t, do(t, h, http.MethodPost, "/api/v1/ingest-complete", ""), &flush)
	if flush.Flushed != 4 {
		t.Errorf("flushed: got %d, want 4", flush.Flushed)
	}
	if n := len(sink.events()); n != 3 {
		t.Errorf("published: got %d messages, want provisional + tree + results", n)
	}

	rr := do(t, h, http.MethodGet, "/api/v1/pending", "")
	if body := strings.TrimSpace(rr.Body.String()); body != `{"tree":[],"results":[]}` {
		t.Errorf("empty pending: got %s", body)
	}
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newHandler(t)
	do(t, h, http.MethodPost, "/api/v1/events", twoFiles)

	var resp api.HealthResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/health", ""), &resp)
	if resp.Status != "ok" || resp.TreeTracked != 2 || !resp.TreeArmed || !resp.ResultsArmed {
		t.Errorf("health: got %+v", resp)
	}
	if resp.Clients != 2 || resp.Producers != 1 {
		t.Errorf("clients/producers: got %d/%d", resp.Clients, resp.Producers)
	}
}

func TestProducers(t *testing.T) {
	h, _, st, _ := newHandler(t)
	st.Record("agent-b", "x", 1)
	st.Record("agent-a", "y", 2)

	var resp api.ProducersResponse
	decode(t, do(t, h, http.MethodGet, "/api/v1/producers", ""), &resp)
	if len(resp.Producers) != 2 || resp.Producers[0].Source != "agent-a" {
		t.Errorf("producers: got %+v", resp.Producers)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h, _, _, _ := newHandler(t)

	tests := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/events"},
		{http.MethodGet, "/api/v1/ingest-complete"},
		{http.MethodPost, "/api/v1/pending"},
		{http.MethodDelete, "/api/v1/health"},
		{http.MethodPost, "/api/v1/producers"},
	}
	for _, tt := range tests {
		if rr := do(t, h, tt.method, tt.path, ""); rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: got %d, want 405", tt.method, tt.path, rr.Code)
		}
	}
}

func TestContentTypeJSON(t *testing.T) {
	h, _, _, _ := newHandler(t)
	for _, path := range []string{"/api/v1/pending", "/api/v1/health", "/api/v1/producers"} {
		rr := do(t, h, http.MethodGet, path, "")
		if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("%s: Content-Type got %q", path, ct)
		}
	}
}
