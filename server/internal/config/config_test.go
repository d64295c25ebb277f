package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// The agent section is ignored by the server loader.
	p := writeConfig(t, `agent:
  server_endpoint: "localhost:50051"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != DefaultGRPCPort || s.HTTPPort != DefaultHTTPPort {
		t.Errorf("ports: got %d/%d", s.GRPCPort, s.HTTPPort)
	}

	tree, err := s.Refresh.Tree.Coalesce("tree")
	if err != nil {
		t.Fatalf("tree engine: %v", err)
	}
	if tree.Policy != coalesce.PerKeyDeadline || tree.Timeout != DefaultTreeTimeout || tree.PollResolution != DefaultPollResolution {
		t.Errorf("tree engine: got %+v", tree)
	}
	results, err := s.Refresh.Results.Coalesce("results")
	if err != nil {
		t.Fatalf("results engine: %v", err)
	}
	if results.Policy != coalesce.FixedDelay || results.BatchDelay != DefaultResultsDelay {
		t.Errorf("results engine: got %+v", results)
	}
	if lvl, _ := s.Level(); lvl != slog.LevelInfo {
		t.Errorf("log level: got %v, want info", lvl)
	}
	if s.Stream.PendingInterval != DefaultPendingInterval {
		t.Errorf("stream.pending_interval: got %v", s.Stream.PendingInterval)
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_port: 9090
  http_port: 9091
  log_level: debug
  auth:
    mode: apikey
    key_env: MY_KEY
    header: X-Case-Key
  refresh:
    tree:
      policy: debounce
      timeout: 30s
      poll_resolution: 250ms
    results:
      policy: batch
      batch_delay: 10s
    ignored_kinds: [score, EMAIL]
  producers:
    ttl: 1m
  webhooks:
    - type: slack
      url_env: SLACK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Server
	if s.GRPCPort != 9090 || s.HTTPPort != 9091 {
		t.Errorf("ports: got %d/%d", s.GRPCPort, s.HTTPPort)
	}
	if lvl, _ := s.Level(); lvl != slog.LevelDebug {
		t.Errorf("log level: got %v, want debug", lvl)
	}
	if h := s.Auth.EffectiveHeader(); h != "x-case-key" {
		t.Errorf("header: got %q, want x-case-key", h)
	}
	tree, _ := s.Refresh.Tree.Coalesce("tree")
	if tree.Timeout != 30*time.Second || tree.PollResolution != 250*time.Millisecond {
		t.Errorf("tree engine: got %+v", tree)
	}
	results, _ := s.Refresh.Results.Coalesce("results")
	if results.BatchDelay != 10*time.Second {
		t.Errorf("results engine: got %+v", results)
	}
	kinds, err := s.Refresh.Kinds()
	if err != nil || len(kinds) != 2 || kinds[0] != types.KindScore || kinds[1] != types.KindEmail {
		t.Errorf("ignored kinds: got %v, %v", kinds, err)
	}
	if s.Producers.TTL != time.Minute {
		t.Errorf("producers.ttl: got %v", s.Producers.TTL)
	}
	if len(s.Webhooks) != 1 || s.Webhooks[0].Type != "slack" {
		t.Errorf("webhooks: got %+v", s.Webhooks)
	}
}

func TestLoad_EnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_HOOK_URL", "http://hooks.local/x")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
  webhooks:
    - type: http
      url_env: TEST_HOOK_URL
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if u := cfg.Server.Webhooks[0].URL(); u != "http://hooks.local/x" {
		t.Errorf("URL(): got %q", u)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"port out of range", "server:\n  grpc_port: 70000\n"},
		{"unknown auth mode", "server:\n  auth:\n    mode: oauth2\n"},
		{"bad log level", "server:\n  log_level: loud\n"},
		{"unknown policy", "server:\n  refresh:\n    tree:\n      policy: sometimes\n"},
		{"zero timeout", "server:\n  refresh:\n    tree:\n      timeout: 0s\n"},
		{"deadline without resolution", "server:\n  refresh:\n    results:\n      policy: deadline\n      timeout: 1m\n"},
		{"unknown ignored kind", "server:\n  refresh:\n    ignored_kinds: [registry]\n"},
		{"unknown webhook type", "server:\n  webhooks:\n    - type: teams\n"},
		{"negative pending interval", "server:\n  stream:\n    pending_interval: -1s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: info\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, p, func(c *Config) { got <- c }) }()

	// Rewrite until the watcher (started asynchronously) sees a change.
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			// A write may be observed mid-truncate as an empty, all-defaults file.
			if c.Server.LogLevel != "debug" {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch: %v", err)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(p, []byte("server:\n  log_level: debug\n"), 0o600); err != nil {
				t.Fatal(err)
			}
		case <-deadline:
			t.Fatal("no reload within 3s")
		}
	}
}
