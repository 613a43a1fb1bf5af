// Package router implements the mode router (spec.md §4.5): a weighted
// multi-signal scorer that picks which generation mode handles a cycle, with
// a deterministic argmax/margin/confidence and an LLM tiebreak path for
// close calls. Grounded on the teacher's internal/executive dispatch (which
// decides reflex-vs-Claude-session per message) and internal/reflex/engine.go
// (fast-path pattern matching feeding a slower fallback), generalized from a
// binary reflex/session split into a full weighted-signal scorer over four
// modes.
package router

import (
	"context"
	"sort"

	"github.com/cogloop/core/internal/numerics"
	"github.com/cogloop/core/internal/types"
)

// Mode tiebreak/selection tunables (spec.md §4.5).
const (
	TiebreakMargin        = 0.08
	ActDeterministicFreshnessRisk = 0.9
	RespondEscalateFreshnessRisk  = 0.7
)

// Tiebreaker resolves a close-margin decision with a small, cheap model
// call. Implementations live in internal/llm.
type Tiebreaker interface {
	Resolve(ctx context.Context, signals map[string]float64, candidates []types.Mode) (types.Mode, error)
}

// WeightStore is the single-writer weight table's read contract. Weights
// are keyed by "mode|signal".
type WeightStore interface {
	RouterWeights(ctx context.Context) (map[string]float64, error)
}

// Signals is one cycle's computed signal values, in [0,1] unless noted.
type Signals map[string]float64

// ToolRegistry reports whether an action-capable or search-like tool is
// currently registered, inputs to the deterministic ACT/RESPOND overrides.
type ToolRegistry interface {
	HasActionCapableTool() bool
	HasSearchLikeTool() bool
}

// Router scores the four modes and selects one for a cycle.
type Router struct {
	weights    WeightStore
	tiebreaker Tiebreaker
	tools      ToolRegistry
}

func NewRouter(weights WeightStore, tiebreaker Tiebreaker, tools ToolRegistry) *Router {
	return &Router{weights: weights, tiebreaker: tiebreaker, tools: tools}
}

// Decide scores every mode, applies the deterministic overrides and
// tiebreak rule, and returns a fully populated RoutingDecision (unsaved —
// callers persist it).
func (r *Router) Decide(ctx context.Context, topic, exchangeID string, sig Signals, prevMode types.Mode) (*types.RoutingDecision, error) {
	weights, err := r.weights.RouterWeights(ctx)
	if err != nil {
		return nil, err
	}

	scores := make(map[types.Mode]float64, len(types.AllModes))
	for _, mode := range types.AllModes {
		var total float64
		for name, value := range sig {
			total += weights[string(mode)+"|"+name] * value
		}
		scores[mode] = total
	}

	// CLARIFY suppression: a CLARIFY immediately following another CLARIFY
	// with no new information has its score forced to -1, so the
	// next-ranked mode is selected instead of looping.
	if prevMode == types.ModeClarify && sig["new_information"] == 0 {
		scores[types.ModeClarify] = -1
	}

	ranked := rankModes(scores)
	selected := ranked[0]
	top1, top2 := scores[ranked[0]], scores[ranked[1]]
	margin := top1 - top2
	confidence := 0.0
	if top1 != 0 {
		confidence = numerics.Clamp(margin/top1, 0, 1)
	}

	freshnessRisk := sig["freshness_risk"]
	tiebreakerUsed := false

	switch {
	case freshnessRisk >= ActDeterministicFreshnessRisk && r.tools != nil && r.tools.HasSearchLikeTool():
		selected = types.ModeAct
	case margin < TiebreakMargin && r.tiebreaker != nil:
		tiebreakerUsed = true
		resolved, err := r.tiebreaker.Resolve(ctx, sig, ranked[:2])
		if err == nil {
			selected = resolved
		}
	case selected == types.ModeRespond && freshnessRisk >= RespondEscalateFreshnessRisk &&
		r.tools != nil && r.tools.HasActionCapableTool():
		tiebreakerUsed = true
		resolved, err := r.tiebreaker.Resolve(ctx, sig, []types.Mode{types.ModeRespond, types.ModeAct})
		if err == nil {
			selected = resolved
		}
	}

	effectiveMargin := margin
	if tiebreakerUsed {
		effectiveMargin = 0
	}

	weightSnapshot := make(map[string]float64, len(weights))
	for k, v := range weights {
		weightSnapshot[k] = v
	}
	scoreSnapshot := make(map[types.Mode]float64, len(scores))
	for k, v := range scores {
		scoreSnapshot[k] = v
	}

	return &types.RoutingDecision{
		Topic:            topic,
		ExchangeID:       exchangeID,
		SelectedMode:     selected,
		RouterConfidence: confidence,
		Scores:           scoreSnapshot,
		TiebreakerUsed:   tiebreakerUsed,
		Margin:           margin,
		EffectiveMargin:  effectiveMargin,
		SignalSnapshot:   map[string]float64(sig),
		WeightSnapshot:   weightSnapshot,
	}, nil
}

// rankModes returns modes ordered by score descending, ties broken by the
// fixed declaration order in types.AllModes for determinism.
func rankModes(scores map[types.Mode]float64) []types.Mode {
	ranked := make([]types.Mode, len(types.AllModes))
	copy(ranked, types.AllModes)
	sort.SliceStable(ranked, func(i, j int) bool { return scores[ranked[i]] > scores[ranked[j]] })
	return ranked
}
