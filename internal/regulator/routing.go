package regulator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cogloop/core/internal/config"
	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/numerics"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Tuning constants for the Routing Stability Regulator (spec.md §4.8).
const (
	routingCycle         = 24 * time.Hour
	routingMaxDailyDelta = 0.02
	routingCooldown      = 48 * time.Hour
	routingReplaySample  = 100
)

// Routing is the single writer of router_weights: once per cycle it reads
// the day's accumulated pressure, proposes a bounded update per weight,
// verifies the update against a replay of recent decisions, and persists
// only if the replay doesn't make things worse.
type Routing struct {
	store   *postgres.Store
	cfg     *config.Config
	journal *journal.Journal

	mu          sync.Mutex
	lastChanged map[string]time.Time
}

func NewRouting(store *postgres.Store, cfg *config.Config, j *journal.Journal) *Routing {
	return &Routing{store: store, cfg: cfg, journal: j, lastChanged: make(map[string]time.Time)}
}

// Run ticks every routingCycle until ctx is cancelled.
func (r *Routing) Run(ctx context.Context) {
	ticker := time.NewTicker(routingCycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one regulation pass.
func (r *Routing) Tick(ctx context.Context) {
	l := logging.For("regulator.routing")
	cutoff := time.Now().Add(-routingCycle)

	keys, err := r.journal.Keys(cutoff)
	if err != nil {
		l.Error().Err(err).Msg("read pressure keys")
		return
	}
	if len(keys) == 0 {
		return
	}

	current := r.cfg.RouterWeights()
	flat := flattenWeights(current)

	r.mu.Lock()
	candidate := make(map[string]float64, len(flat))
	for k, v := range flat {
		candidate[k] = v
	}
	changed := make([]string, 0, len(keys))
	for _, key := range keys {
		if last, ok := r.lastChanged[key]; ok && time.Since(last) < routingCooldown {
			continue // held: 48h per-parameter cooldown not yet elapsed
		}
		pressure, err := r.journal.PressureSince(key, cutoff)
		if err != nil {
			continue
		}
		delta := numerics.Clamp(pressure, -routingMaxDailyDelta, routingMaxDailyDelta)
		if delta == 0 {
			continue
		}
		candidate[key] = flat[key] + delta
		changed = append(changed, key)
	}
	r.mu.Unlock()

	if len(changed) == 0 {
		return
	}

	decisions, err := r.store.RecentRoutingDecisions(ctx, routingReplaySample)
	if err != nil {
		l.Error().Err(err).Msg("load replay sample")
		return
	}
	if !replayImproves(decisions, flat, candidate) {
		l.Warn().Strs("weights", changed).Msg("replay did not hold confidence, discarding update")
		return
	}

	nested := nestWeights(candidate)
	if err := r.cfg.ApplyRouterWeights("routing_stability_regulator", nested); err != nil {
		l.Error().Err(err).Msg("persist router weights")
		return
	}

	r.mu.Lock()
	now := time.Now()
	for _, key := range changed {
		r.lastChanged[key] = now
	}
	r.mu.Unlock()

	l.Info().Strs("weights", changed).Msg("applied routing weight update")
}

// replayImproves reports whether candidate weights, scored against the
// signals already recorded on decisions, yield an aggregate confidence no
// lower than the weights that were actually in effect (spec.md §4.8's
// acceptance criterion).
func replayImproves(decisions []types.RoutingDecision, current, candidate map[string]float64) bool {
	if len(decisions) == 0 {
		return true
	}
	var beforeSum, afterSum float64
	for _, d := range decisions {
		beforeSum += confidenceWith(d, current)
		afterSum += confidenceWith(d, candidate)
	}
	return afterSum/float64(len(decisions)) >= beforeSum/float64(len(decisions))
}

// confidenceWith recomputes a decision's margin-derived confidence against
// a hypothetical weight table, mirroring router.Router.Decide's formula.
func confidenceWith(d types.RoutingDecision, weights map[string]float64) float64 {
	scores := make(map[types.Mode]float64, len(types.AllModes))
	for _, mode := range types.AllModes {
		var total float64
		for name, value := range d.SignalSnapshot {
			total += weights[string(mode)+"|"+name] * value
		}
		scores[mode] = total
	}
	top1, top2 := topTwo(scores)
	if top1 == 0 {
		return 0
	}
	return numerics.Clamp((top1-top2)/top1, 0, 1)
}

func topTwo(scores map[types.Mode]float64) (float64, float64) {
	top1, top2 := -1e18, -1e18
	for _, v := range scores {
		switch {
		case v > top1:
			top2 = top1
			top1 = v
		case v > top2:
			top2 = v
		}
	}
	return top1, top2
}

func flattenWeights(nested map[string]map[string]float64) map[string]float64 {
	flat := make(map[string]float64, len(nested)*8)
	for mode, signals := range nested {
		for sig, w := range signals {
			flat[mode+"|"+sig] = w
		}
	}
	return flat
}

func nestWeights(flat map[string]float64) map[string]map[string]float64 {
	nested := make(map[string]map[string]float64)
	for key, w := range flat {
		mode, sig, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		if nested[mode] == nil {
			nested[mode] = make(map[string]float64)
		}
		nested[mode][sig] = w
	}
	return nested
}
