package stats

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/types"
	"github.com/casewatch/casewatch/server/internal/api"
	"github.com/casewatch/casewatch/server/internal/auth"
	"github.com/casewatch/casewatch/server/internal/refresh"
	"github.com/casewatch/casewatch/server/internal/store"
)

// startServer runs a real aggregator behind the API and /metrics, guarded by
// an API key.
func startServer(t *testing.T) (*refresh.Aggregator, string) {
	t.Helper()

	reg := prometheus.NewRegistry()
	em, rm := coalesce.NewMetrics(), refresh.NewMetrics()
	reg.MustRegister(em, rm)

	agg, err := refresh.New(refresh.Config{
		Tree: coalesce.Config{
			Policy:         coalesce.PerKeyDeadline,
			Timeout:        time.Hour,
			PollResolution: time.Hour,
		},
		Results:       coalesce.Config{Policy: coalesce.FixedDelay, BatchDelay: time.Hour},
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		EngineMetrics: em,
		Metrics:       rm,
	})
	if err != nil {
		t.Fatalf("refresh.New: %v", err)
	}
	t.Cleanup(func() { _ = agg.Stop() })

	checker := auth.New("apikey", "x-api-key", "k")
	mux := http.NewServeMux()
	mux.Handle("/metrics", checker.Middleware(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	mux.Handle("/api/", checker.Middleware(api.New(agg, store.New(time.Minute), nil)))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return agg, srv.URL
}

func TestClient_SummaryAgainstLiveServer(t *testing.T) {
	agg, url := startServer(t)
	agg.Process([]types.ChangeEvent{
		{Kind: types.KindFile, TypeID: 1, DataSourceID: 1},
		{Kind: types.KindFile, TypeID: 2, DataSourceID: 1},
		{Kind: types.KindFile, TypeID: 2, DataSourceID: 0},
	})

	c := NewClient(url+"/", "x-api-key", "k")
	s, err := c.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}

	if len(s.Engines) != 2 || s.Engines[0].Name != "results" || s.Engines[1].Name != "tree" {
		t.Fatalf("engines: got %+v", s.Engines)
	}
	tree := s.Engines[1]
	if tree.Enqueued != 2 || tree.Tracked != 2 || tree.Delivered["provisional"] != 2 {
		t.Errorf("tree engine: got %+v", tree)
	}
	if s.Events["accepted"] != 2 || s.Events["ignored"] != 1 {
		t.Errorf("events: got %v", s.Events)
	}
	if s.Messages[refresh.EventTree] != 1 {
		t.Errorf("messages: got %v", s.Messages)
	}

	var buf bytes.Buffer
	if err := s.Print(&buf); err != nil {
		t.Fatalf("Print: %v", err)
	}
	if !strings.Contains(buf.String(), "tree") || !strings.Contains(buf.String(), "events ignored") {
		t.Errorf("Print output:\n%s", buf.String())
	}
}

func TestClient_RESTCalls(t *testing.T) {
	agg, url := startServer(t)
	agg.Process([]types.ChangeEvent{{Kind: types.KindTag, TypeID: 3, DataSourceID: 2}})

	c := NewClient(url, "x-api-key", "k")
	ctx := context.Background()

	p, err := c.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if len(p.Tree) != 1 || p.Tree[0].Kind != types.KindTag {
		t.Errorf("pending: got %+v", p)
	}

	h, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "ok" || h.TreeTracked != 1 {
		t.Errorf("health: got %+v", h)
	}

	if _, err := c.Producers(ctx); err != nil {
		t.Fatalf("Producers: %v", err)
	}

	f, err := c.Flush(ctx)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if f.Flushed != 2 {
		t.Errorf("flushed: got %d, want 2", f.Flushed)
	}
}

func TestClient_Unauthorized(t *testing.T) {
	_, url := startServer(t)

	_, err := NewClient(url, "x-api-key", "wrong").Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("err: got %v, want a 401 error", err)
	}
}

func TestParseMetrics_Garbage(t *testing.T) {
	if _, err := parseMetrics(strings.NewReader("{not prometheus}")); err == nil {
		t.Error("expected an error for unparseable input")
	}
}

func TestSumFamily_Missing(t *testing.T) {
	if v := sumFamily(nil); v != 0 {
		t.Errorf("sumFamily(nil): got %v", v)
	}
}
