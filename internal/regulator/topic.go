package regulator

import (
	"context"
	"sync"
	"time"

	"github.com/cogloop/core/internal/config"
	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/numerics"
	"github.com/cogloop/core/internal/topic"
)

// Tuning constants for the Topic Stability Regulator (spec.md §4.8).
const (
	topicCycle     = 24 * time.Hour
	topicMaxDelta  = 0.02
	topicCooldown  = 48 * time.Hour
)

// Pressure keys the Topic Stability Regulator owns. Monitors log to these
// same keys when they observe a false split (boundary fired, then the next
// few messages re-merged) or a missed split (manual user correction).
const (
	PressureLeakRate        = "leak_rate"
	PressureAccumulatorBase = "accumulator_base"
	PressureFastAlpha       = "fast_alpha"
	PressureSlowAlpha       = "slow_alpha"
)

// Topic is the single writer of topic_boundary_base_params: once per cycle
// it reads logged false-split/missed-split pressure and applies a bounded
// update, then pushes the new base parameters live via mgr.SetParamsAll.
type Topic struct {
	cfg     *config.Config
	journal *journal.Journal
	mgr     *topic.BoundaryManager

	mu          sync.Mutex
	lastChanged map[string]time.Time
}

func NewTopic(cfg *config.Config, j *journal.Journal, mgr *topic.BoundaryManager) *Topic {
	return &Topic{cfg: cfg, journal: j, mgr: mgr, lastChanged: make(map[string]time.Time)}
}

// Run ticks every topicCycle until ctx is cancelled.
func (t *Topic) Run(ctx context.Context) {
	ticker := time.NewTicker(topicCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx)
		}
	}
}

// Tick runs one regulation pass.
func (t *Topic) Tick(ctx context.Context) {
	l := logging.For("regulator.topic")
	cutoff := time.Now().Add(-topicCycle)

	base := t.cfg.BoundaryParams()
	updated := base
	var changed []string

	t.mu.Lock()
	for key, apply := range map[string]func(delta float64){
		PressureLeakRate:        func(d float64) { updated.LeakRate = numerics.Clamp(base.LeakRate+d, 0.01, 0.9) },
		PressureAccumulatorBase: func(d float64) { updated.AccumulatorBase = numerics.Clamp(base.AccumulatorBase+d, 0.5, 10) },
		PressureFastAlpha:       func(d float64) { updated.FastAlpha = numerics.Clamp(base.FastAlpha+d, 0.01, 0.9) },
		PressureSlowAlpha:       func(d float64) { updated.SlowAlpha = numerics.Clamp(base.SlowAlpha+d, 0.001, 0.5) },
	} {
		if last, ok := t.lastChanged[key]; ok && time.Since(last) < topicCooldown {
			continue
		}
		pressure, err := t.journal.PressureSince(key, cutoff)
		if err != nil || pressure == 0 {
			continue
		}
		delta := numerics.Clamp(pressure, -topicMaxDelta, topicMaxDelta)
		apply(delta)
		changed = append(changed, key)
	}
	if len(changed) == 0 {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	for _, key := range changed {
		t.lastChanged[key] = now
	}
	t.mu.Unlock()

	if err := t.cfg.ApplyBoundaryParams("topic_stability_regulator", updated); err != nil {
		l.Error().Err(err).Msg("persist boundary params")
		return
	}
	t.mgr.SetParamsAll(updated.LeakRate, updated.AccumulatorBase)
	l.Info().Strs("params", changed).Msg("applied topic boundary update")
}
