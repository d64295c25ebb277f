package coalesce

// Notifier is the consumer of coalesced keys. Implementations are called from
// timer goroutines and must return quickly; a slow Notifier delays later
// deliveries of the same instance but never blocks producers.
type Notifier[K comparable] interface {
	// Handle receives the whole accumulated set of a FixedDelay window.
	Handle(batch []K)

	// HandleEvents receives PerKeyDeadline notifications. determinate is
	// false for keys seen for the first time (provisional) and true for keys
	// that settled or were flushed.
	HandleEvents(batch []K, determinate bool)
}

// Funcs adapts plain functions to Notifier. Nil fields are no-ops.
type Funcs[K comparable] struct {
	OnBatch  func(batch []K)
	OnEvents func(batch []K, determinate bool)
}

// Handle implements Notifier.
func (f Funcs[K]) Handle(batch []K) {
	if f.OnBatch != nil {
		f.OnBatch(batch)
	}
}

// HandleEvents implements Notifier.
func (f Funcs[K]) HandleEvents(batch []K, determinate bool) {
	if f.OnEvents != nil {
		f.OnEvents(batch, determinate)
	}
}

// Delivery kinds, used as the "kind" metric label and log field.
const (
	KindBatch       = "batch"
	KindProvisional = "provisional"
	KindSettled     = "settled"
	KindFlushed     = "flushed"
)

// deliver hands batch to fn behind a recover boundary. A panic is logged and
// counted and deliver reports false; the calling goroutine keeps running.
func deliver[K comparable](cfg *Config, kind string, batch []K, fn func([]K)) (ok bool) {
	if len(batch) == 0 {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			ok = false
			cfg.Logger.Error("coalesce: notifier panicked",
				"engine", cfg.Name,
				"kind", kind,
				"keys", len(batch),
				"panic", r,
			)
			cfg.Metrics.notifierPanicked(cfg.Name)
		}
	}()
	fn(batch)
	cfg.Metrics.delivered(cfg.Name, kind, len(batch))
	return true
}

func keysOf[K comparable, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
