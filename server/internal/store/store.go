package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Producer is the activity record of one source.
type Producer struct {
	Source      string    `json:"source"`
	Batches     int64     `json:"batches"`
	Events      int64     `json:"events"`
	LastBatchID string    `json:"last_batch_id,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Store is a thread-safe producer registry keyed by source.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Producer
	ttl  time.Duration
	now  func() time.Time // injectable for tests
}

// New creates a Store with the given TTL.
func New(ttl time.Duration) *Store {
	return &Store{
		data: make(map[string]*Producer),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Record notes one batch of events from source. An empty source is recorded
// as "unknown".
func (s *Store) Record(source, batchID string, events int) {
	if source == "" {
		source = "unknown"
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[source]
	if !ok {
		p = &Producer{Source: source, FirstSeen: now}
		s.data[source] = p
	}
	p.Batches++
	p.Events += int64(events)
	p.LastBatchID = batchID
	p.LastSeen = now
}

// Get returns a copy of the record for source.
func (s *Store) Get(source string) (Producer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[source]
	if !ok {
		return Producer{}, false
	}
	return *p, true
}

// List returns copies of the producers seen within the TTL, sorted by source.
func (s *Store) List() []Producer {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Producer, 0, len(s.data))
	for _, p := range s.data {
		if p.LastSeen.After(cutoff) {
			out = append(out, *p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Count returns the number of records held, stale ones included.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes producers not seen since now minus TTL and returns how many.
func (s *Store) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	removed := 0
	for src, p := range s.data {
		if !p.LastSeen.After(cutoff) {
			delete(s.data, src)
			removed++
		}
	}
	return removed
}

// Run evicts stale producers every half TTL (at least every second) until
// ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if n := s.Evict(now); n > 0 {
				slog.Debug("store: evicted silent producers", "count", n)
			}
		}
	}
}
