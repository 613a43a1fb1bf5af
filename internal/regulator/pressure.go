// Package regulator implements spec.md §4.8's single-writer closed-loop
// controllers: the Routing Stability Regulator (router_weights), the Topic
// Stability Regulator (topic_boundary_base_params), and the idle-time
// Routing Reflection pass that feeds the former. "Other monitors only log
// pressure; they do not mutate" — every non-regulator observation in this
// package goes through Monitor.Nudge, never a config.Apply* call.
//
// Grounded on the teacher's internal/journal (adapted into
// internal/journal as the append-only pressure log) and internal/executive's
// single-instance background-loop shape, generalized from a session-local
// decision log into the two named, config-authoritative regulators.
package regulator

import (
	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/topic"
)

// Monitor is the read-only observer side of the pressure-signal contract:
// any component that notices a router weight or boundary parameter should
// move logs it here, and only the owning regulator's next cycle acts on it.
type Monitor struct {
	journal *journal.Journal
	source  string
}

func NewMonitor(j *journal.Journal, source string) *Monitor {
	return &Monitor{journal: j, source: source}
}

// Nudge logs one signed pressure contribution toward adjusting key.
func (m *Monitor) Nudge(key string, delta float64) error {
	return m.journal.LogPressure(key, delta, m.source)
}

// boundarySaturationTarget is the accumulator/fireAt ratio, averaged across
// live detectors, above which the population is trending toward firing too
// readily — a standing signal the accumulator threshold is set low.
const boundarySaturationTarget = 0.8

// ObserveBoundaries folds a BoundaryManager snapshot into topic-regulator
// pressure: detectors sitting consistently close to firing nudge
// accumulator_base up a little, the Topic Stability Regulator's other
// input besides explicit false-split/missed-split corrections.
func (m *Monitor) ObserveBoundaries(signals []topic.PressureSignals) error {
	if len(signals) == 0 {
		return nil
	}
	var ratioSum float64
	for _, s := range signals {
		if s.FireAt > 0 {
			ratioSum += s.Accumulator / s.FireAt
		}
	}
	avg := ratioSum / float64(len(signals))
	if avg < boundarySaturationTarget {
		return nil
	}
	return m.Nudge("accumulator_base", 0.01)
}
