package topic

import "sync"

// BoundaryManager holds one BoundaryDetector per thread, since the NEWMA/
// z-score/accumulator state in spec.md §4.4 is inherently per-conversation.
// Kept process-local (not persisted) — a digest worker restart resets a
// thread's adaptive state back to cold-start, which only costs up to
// coldStartMessages of static-threshold classification before the adaptive
// signals resume, an acceptable tradeoff against serializing EWMA/rolling-
// window internals for every message.
type BoundaryManager struct {
	mu        sync.Mutex
	detectors map[string]*BoundaryDetector
}

func NewBoundaryManager() *BoundaryManager {
	return &BoundaryManager{detectors: make(map[string]*BoundaryDetector)}
}

// For returns the thread's detector, creating one at factory defaults on
// first use.
func (m *BoundaryManager) For(threadID string) *BoundaryDetector {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.detectors[threadID]
	if !ok {
		d = NewBoundaryDetector()
		m.detectors[threadID] = d
	}
	return d
}

// SetParamsAll applies a regulator-issued tuning update to every live
// detector. Detectors that For creates afterward start at factory defaults
// and do not receive it.
func (m *BoundaryManager) SetParamsAll(leakRate, fireAt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.detectors {
		d.SetParams(leakRate, fireAt)
	}
}

// Forget drops a thread's detector, e.g. after the thread expires.
func (m *BoundaryManager) Forget(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.detectors, threadID)
}

// AllPressure snapshots every live detector's PressureSignals, the Topic
// Stability Regulator's view into how close the current population of
// threads sits to firing a split under today's base parameters.
func (m *BoundaryManager) AllPressure() []PressureSignals {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PressureSignals, 0, len(m.detectors))
	for _, d := range m.detectors {
		out = append(out, d.Pressure())
	}
	return out
}
