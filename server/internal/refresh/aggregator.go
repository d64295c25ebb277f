package refresh

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/casewatch/casewatch/pkg/coalesce"
	"github.com/casewatch/casewatch/pkg/types"
)

// Config configures an Aggregator. Tree and Results are complete engine
// configs; their Name defaults to "tree" and "results" and Clock, Logger and
// Metrics default to the Aggregator's own.
type Config struct {
	Tree    coalesce.Config
	Results coalesce.Config

	// IgnoredKinds are never considered refresh-relevant.
	IgnoredKinds []types.Kind

	Clock         clock.Clock
	Logger        *slog.Logger
	EngineMetrics *coalesce.Metrics
	Metrics       *Metrics
}

// Result summarises one Process call.
type Result struct {
	Accepted  int `json:"accepted"`
	NewlySeen int `json:"newly_seen"`
	Ignored   int `json:"ignored"`
}

// Status is a point-in-time view of both engines.
type Status struct {
	TreeTracked    int  `json:"tree_tracked"`
	TreeArmed      bool `json:"tree_armed"`
	ResultsPending int  `json:"results_pending"`
	ResultsArmed   bool `json:"results_armed"`
}

// Aggregator feeds relevant change events into the tree and results engines
// and publishes their output to sinks.
type Aggregator struct {
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	ignored map[types.Kind]bool

	tree    *coalesce.Engine[types.DAOEventKey]
	results *coalesce.Engine[types.DAOEventKey]

	mu    sync.RWMutex
	sinks []Sink
}

// New starts an Aggregator. Stop must be called to release engine timers.
func New(cfg Config, sinks ...Sink) (*Aggregator, error) {
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	a := &Aggregator{
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		ignored: make(map[types.Kind]bool, len(cfg.IgnoredKinds)),
		sinks:   append([]Sink(nil), sinks...),
	}
	for _, k := range cfg.IgnoredKinds {
		a.ignored[k] = true
	}

	treeCfg := a.engineConfig(cfg.Tree, "tree", cfg.EngineMetrics)
	tree, err := coalesce.New[types.DAOEventKey](treeCfg, coalesce.Funcs[types.DAOEventKey]{
		OnBatch:  func(keys []types.DAOEventKey) { a.publishTree(keys, true) },
		OnEvents: a.publishTree,
	})
	if err != nil {
		return nil, fmt.Errorf("refresh: tree engine: %w", err)
	}

	resultsCfg := a.engineConfig(cfg.Results, "results", cfg.EngineMetrics)
	results, err := coalesce.New[types.DAOEventKey](resultsCfg, coalesce.Funcs[types.DAOEventKey]{
		OnBatch: a.publishResults,
		OnEvents: func(keys []types.DAOEventKey, determinate bool) {
			if determinate {
				a.publishResults(keys)
			}
		},
	})
	if err != nil {
		_ = tree.Stop()
		return nil, fmt.Errorf("refresh: results engine: %w", err)
	}

	a.tree, a.results = tree, results
	return a, nil
}

func (a *Aggregator) engineConfig(c coalesce.Config, name string, m *coalesce.Metrics) coalesce.Config {
	if c.Name == "" {
		c.Name = name
	}
	if c.Clock == nil {
		c.Clock = a.clock
	}
	if c.Logger == nil {
		c.Logger = a.logger
	}
	if c.Metrics == nil {
		c.Metrics = m
	}
	return c
}

// AddSink registers s for every later message.
func (a *Aggregator) AddSink(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sinks = append(a.sinks, s)
}

// Relevant reports whether e should trigger a refresh: a known kind that is
// not ignored, scoped to a data source (hosts are global).
func (a *Aggregator) Relevant(e types.ChangeEvent) bool {
	if !e.Kind.Known() || a.ignored[e.Kind] {
		return false
	}
	return e.DataSourceID > 0 || e.Kind == types.KindHost
}

// Process enqueues the relevant events of one batch into both engines.
// Provisional tree messages for newly seen keys are published before
// Process returns.
func (a *Aggregator) Process(events []types.ChangeEvent) Result {
	var res Result
	keys := make([]types.DAOEventKey, 0, len(events))
	for _, e := range events {
		if !a.Relevant(e) {
			res.Ignored++
			continue
		}
		keys = append(keys, e.Key())
	}
	res.Accepted = len(keys)

	a.metrics.events("accepted", res.Accepted)
	a.metrics.events("ignored", res.Ignored)
	if len(keys) == 0 {
		return res
	}

	res.NewlySeen = len(a.tree.EnqueueAll(keys))
	a.results.EnqueueAll(keys)
	return res
}

// IngestComplete flushes both engines and returns how many keys were
// delivered.
func (a *Aggregator) IngestComplete() int {
	n := len(a.tree.Flush())
	n += len(a.results.Flush())
	a.logger.Info("refresh: ingest complete, pending refreshes flushed", "keys", n)
	return n
}

// Pending returns sorted copies of the keys each engine has not yet
// delivered as final.
func (a *Aggregator) Pending() (tree, results []types.DAOEventKey) {
	return sortKeys(a.tree.Pending()), sortKeys(a.results.Pending())
}

// PendingMessage is the snapshot a newly connected client starts from: every
// tree key still changing, as provisional.
func (a *Aggregator) PendingMessage() Message {
	keys := sortKeys(a.tree.Pending())
	events := make([]types.TreeEvent, len(keys))
	for i, k := range keys {
		events[i] = types.ProvisionalTreeEvent(k)
	}
	return newMessage(EventPending, false, a.clock.Now(), events)
}

// Status reports engine occupancy.
func (a *Aggregator) Status() Status {
	return Status{
		TreeTracked:    a.tree.Len(),
		TreeArmed:      a.tree.Armed(),
		ResultsPending: a.results.Len(),
		ResultsArmed:   a.results.Armed(),
	}
}

// Stop stops both engines. Pending keys are discarded without notification.
func (a *Aggregator) Stop() error {
	return errors.Join(a.tree.Stop(), a.results.Stop())
}

func (a *Aggregator) publishTree(keys []types.DAOEventKey, determinate bool) {
	events := make([]types.TreeEvent, len(keys))
	for i, k := range sortKeys(keys) {
		if determinate {
			events[i] = types.SettledTreeEvent(k)
		} else {
			events[i] = types.ProvisionalTreeEvent(k)
		}
	}
	a.publish(newMessage(EventTree, determinate, a.clock.Now(), events))
}

func (a *Aggregator) publishResults(keys []types.DAOEventKey) {
	a.publish(newMessage(EventResults, true, a.clock.Now(), sortKeys(keys)))
}

func (a *Aggregator) publish(m Message) {
	a.mu.RLock()
	sinks := make([]Sink, len(a.sinks))
	copy(sinks, a.sinks)
	a.mu.RUnlock()

	a.metrics.published(m.Event)
	a.logger.Debug("refresh: publishing",
		"event", m.Event,
		"id", m.ID,
		"determinate", m.Determinate,
		"sinks", len(sinks),
	)
	for _, s := range sinks {
		s.Publish(m)
	}
}

func sortKeys(keys []types.DAOEventKey) []types.DAOEventKey {
	out := append([]types.DAOEventKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.DataSourceID != b.DataSourceID {
			return a.DataSourceID < b.DataSourceID
		}
		return a.TypeID < b.TypeID
	})
	return out
}

// DefaultConfig mirrors the server defaults: tree keys settle after two
// quiet minutes swept every second, results refresh at most every two
// minutes.
func DefaultConfig() Config {
	return Config{
		Tree: coalesce.Config{
			Policy:         coalesce.PerKeyDeadline,
			Timeout:        2 * time.Minute,
			PollResolution: time.Second,
		},
		Results: coalesce.Config{
			Policy:     coalesce.FixedDelay,
			BatchDelay: 2 * time.Minute,
		},
	}
}
