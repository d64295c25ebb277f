package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/casewatch/casewatch/server/internal/api"
)

const defaultTimeout = 10 * time.Second

// Client talks to one casewatch-server HTTP listener.
type Client struct {
	base   string
	header string
	key    string
	http   *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:8080). When
// key is non-empty it is sent in header on every request.
func NewClient(baseURL, header, key string) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		header: header,
		key:    key,
		http:   &http.Client{Timeout: defaultTimeout},
	}
}

// Summary scrapes /metrics and summarises it.
func (c *Client) Summary(ctx context.Context) (*Summary, error) {
	resp, err := c.do(ctx, http.MethodGet, "/metrics", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	mfs, err := parseMetrics(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return summarise(mfs), nil
}

// Pending calls GET /api/v1/pending.
func (c *Client) Pending(ctx context.Context) (*api.PendingResponse, error) {
	var out api.PendingResponse
	return &out, c.getJSON(ctx, http.MethodGet, "/api/v1/pending", &out)
}

// Health calls GET /api/v1/health.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var out api.HealthResponse
	return &out, c.getJSON(ctx, http.MethodGet, "/api/v1/health", &out)
}

// Producers calls GET /api/v1/producers.
func (c *Client) Producers(ctx context.Context) (*api.ProducersResponse, error) {
	var out api.ProducersResponse
	return &out, c.getJSON(ctx, http.MethodGet, "/api/v1/producers", &out)
}

// Flush calls POST /api/v1/ingest-complete.
func (c *Client) Flush(ctx context.Context) (*api.FlushResponse, error) {
	var out api.FlushResponse
	return &out, c.getJSON(ctx, http.MethodPost, "/api/v1/ingest-complete", &out)
}

func (c *Client) getJSON(ctx context.Context, method, path string, v any) error {
	resp, err := c.do(ctx, method, path, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("stats: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, fmt.Errorf("stats: build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if c.key != "" {
		req.Header.Set(c.header, c.key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stats: %s %s: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("stats: %s %s: unexpected status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// parseMetrics decodes a Prometheus text exposition. A partial parse with
// at least one family is treated as success.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	return mfs, nil
}
