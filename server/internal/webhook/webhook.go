package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/casewatch/casewatch/server/internal/config"
	"github.com/casewatch/casewatch/server/internal/refresh"
)

const (
	queueSize = 128

	// maxListedKeys caps how many keys a Slack message spells out.
	maxListedKeys = 10
)

// Sink delivers refresh messages to the configured webhook targets.
type Sink struct {
	client *http.Client
	queue  chan refresh.Message

	mu       sync.RWMutex
	webhooks []config.WebhookConfig
}

// New returns a Sink posting to webhooks. Run must be started for anything
// to be delivered.
func New(webhooks []config.WebhookConfig) *Sink {
	return &Sink{
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan refresh.Message, queueSize),
		webhooks: webhooks,
	}
}

// SetWebhooks replaces the targets, e.g. after a config reload.
func (s *Sink) SetWebhooks(webhooks []config.WebhookConfig) {
	s.mu.Lock()
	s.webhooks = webhooks
	s.mu.Unlock()
}

// Publish implements refresh.Sink. Provisional messages are not forwarded.
func (s *Sink) Publish(m refresh.Message) {
	if !m.Determinate {
		return
	}
	select {
	case s.queue <- m:
	default:
		slog.Warn("webhook: queue full, dropping message", "event", m.Event, "id", m.ID)
	}
}

// Run delivers queued messages until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-s.queue:
			s.deliver(ctx, m)
		}
	}
}

// deliver sends m to every target. Errors are logged, never returned.
func (s *Sink) deliver(ctx context.Context, m refresh.Message) {
	s.mu.RLock()
	webhooks := s.webhooks
	s.mu.RUnlock()

	for _, wh := range webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = s.sendSlack(ctx, url, m)
		case "http":
			err = s.sendHTTP(ctx, url, m)
		default:
			slog.Warn("webhook: unknown type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("webhook: delivery failed",
				"type", wh.Type,
				"event", m.Event,
				"id", m.ID,
				"err", err,
			)
		} else {
			slog.Debug("webhook: delivered", "type", wh.Type, "event", m.Event, "id", m.ID)
		}
	}
}

func (s *Sink) sendSlack(ctx context.Context, url string, m refresh.Message) error {
	body, _ := json.Marshal(map[string]string{"text": slackText(m)})
	return s.post(ctx, url, body)
}

func (s *Sink) sendHTTP(ctx context.Context, url string, m refresh.Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return s.post(ctx, url, body)
}

func (s *Sink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func slackText(m refresh.Message) string {
	keys := m.Keys()
	names := make([]string, 0, maxListedKeys)
	for i, k := range keys {
		if i == maxListedKeys {
			names = append(names, fmt.Sprintf("and %d more", len(keys)-maxListedKeys))
			break
		}
		names = append(names, k.String())
	}

	what := "results changed"
	if m.Event == refresh.EventTree {
		what = "tree nodes need a refresh"
	}
	return fmt.Sprintf("*casewatch* %d %s: %s", len(keys), what, strings.Join(names, ", "))
}
