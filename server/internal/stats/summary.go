package stats

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	dto "github.com/prometheus/client_model/go"
)

// Metric family names exported by casewatch-server.
const (
	famEnqueued  = "casewatch_coalesce_enqueued_total"
	famDelivered = "casewatch_coalesce_delivered_keys_total"
	famPanics    = "casewatch_coalesce_notifier_panics_total"
	famTracked   = "casewatch_coalesce_tracked_keys"
	famEvents    = "casewatch_refresh_events_total"
	famMessages  = "casewatch_refresh_messages_total"
)

// EngineSummary is the per-engine view of the coalescing metrics.
type EngineSummary struct {
	Name      string
	Enqueued  float64
	Tracked   float64
	Panics    float64
	Delivered map[string]float64 // by kind
}

// Summary is what casewatchctl stats prints.
type Summary struct {
	Engines   []EngineSummary
	Delivered float64            // keys delivered, all engines and kinds
	Events    map[string]float64 // by outcome
	Messages  map[string]float64 // by event
}

func summarise(mfs map[string]*dto.MetricFamily) *Summary {
	engines := map[string]*EngineSummary{}
	engine := func(name string) *EngineSummary {
		e, ok := engines[name]
		if !ok {
			e = &EngineSummary{Name: name, Delivered: map[string]float64{}}
			engines[name] = e
		}
		return e
	}

	for name, v := range byLabel(mfs[famEnqueued], "engine") {
		engine(name).Enqueued = v
	}
	for name, v := range byLabel(mfs[famTracked], "engine") {
		engine(name).Tracked = v
	}
	for name, v := range byLabel(mfs[famPanics], "engine") {
		engine(name).Panics = v
	}
	if mf := mfs[famDelivered]; mf != nil {
		for _, m := range mf.GetMetric() {
			engine(label(m, "engine")).Delivered[label(m, "kind")] += value(m)
		}
	}

	s := &Summary{
		Delivered: sumFamily(mfs[famDelivered]),
		Events:    byLabel(mfs[famEvents], "outcome"),
		Messages:  byLabel(mfs[famMessages], "event"),
	}
	for _, e := range engines {
		s.Engines = append(s.Engines, *e)
	}
	sort.Slice(s.Engines, func(i, j int) bool { return s.Engines[i].Name < s.Engines[j].Name })
	return s
}

// Print renders s as aligned text.
func (s *Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENGINE\tENQUEUED\tTRACKED\tBATCH\tPROVISIONAL\tSETTLED\tFLUSHED\tPANICS")
	for _, e := range s.Engines {
		fmt.Fprintf(tw, "%s\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\n",
			e.Name, e.Enqueued, e.Tracked,
			e.Delivered["batch"], e.Delivered["provisional"], e.Delivered["settled"], e.Delivered["flushed"],
			e.Panics)
	}
	fmt.Fprintf(tw, "\nkeys delivered\t%.0f\n", s.Delivered)
	fmt.Fprintf(tw, "events accepted\t%.0f\n", s.Events["accepted"])
	fmt.Fprintf(tw, "events ignored\t%.0f\n", s.Events["ignored"])
	for _, ev := range sortedKeys(s.Messages) {
		fmt.Fprintf(tw, "messages %s\t%.0f\n", ev, s.Messages[ev])
	}
	return tw.Flush()
}

// byLabel sums a family's samples grouped by one label's value.
func byLabel(mf *dto.MetricFamily, name string) map[string]float64 {
	out := map[string]float64{}
	if mf == nil {
		return out
	}
	for _, m := range mf.GetMetric() {
		out[label(m, name)] += value(m)
	}
	return out
}

// sumFamily adds up every sample of mf; 0 when the family is absent.
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	case m.Untyped != nil:
		return m.Untyped.GetValue()
	}
	return 0
}

func label(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
