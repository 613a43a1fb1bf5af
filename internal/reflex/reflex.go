// Package reflex implements the fast-path "cognitive reflex" layer
// (SPEC_FULL.md §4.11): a small set of pattern-to-mode rules, reloaded
// periodically from the persistent store, that can short-circuit the full
// Mode Router for high-confidence, low-stakes matches — a bare
// acknowledgement, a recognized command phrase — without spending a full
// context-assembly/scoring/generation cycle on it.
//
// Grounded on the teacher's internal/reflex package: Reflex's
// classifier+pattern match model (none/regex/ollama) is kept close to the
// original, trimmed from the teacher's multi-step action pipeline down to a
// single target-mode decision, since everything past mode selection in this
// pipeline is already owned by the generator the selected mode invokes.
package reflex

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// Store is the narrow persistence contract the engine reloads from.
// Satisfied by internal/store/postgres.Store.
type Store interface {
	EnabledReflexes(ctx context.Context) ([]types.CognitiveReflex, error)
}

// compiled pairs one persisted reflex with its lazily-compiled pattern.
type compiled struct {
	rule    types.CognitiveReflex
	pattern *regexp.Regexp
}

// Decision is the result of a firing reflex, shaped so the caller can log it
// as a RoutingDecision with a synthetic score vector (1.0 for TargetMode, 0
// elsewhere), preserving the "scores[selected]=max" invariant without the
// router ever having run.
type Decision struct {
	ReflexName string
	TargetMode types.Mode
	Response   string
}

// Engine holds the currently-loaded reflex set, refreshed on a timer.
type Engine struct {
	store        Store
	refreshEvery time.Duration

	mu    sync.RWMutex
	rules []compiled
}

// NewEngine builds an engine that reloads from store every refreshEvery.
// Call Refresh once before serving traffic to populate the initial set.
func NewEngine(store Store, refreshEvery time.Duration) *Engine {
	if refreshEvery <= 0 {
		refreshEvery = time.Minute
	}
	return &Engine{store: store, refreshEvery: refreshEvery}
}

// Refresh reloads the enabled reflex set from the store, recompiling any
// regex patterns. A rule whose pattern fails to compile is dropped with the
// error surfaced to the caller rather than panicking the whole reload.
func (e *Engine) Refresh(ctx context.Context) error {
	rules, err := e.store.EnabledReflexes(ctx)
	if err != nil {
		return cogerr.Transientf("reflex.Engine.Refresh", "load reflexes: %w", err)
	}
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })

	compiledRules := make([]compiled, 0, len(rules))
	var compileErr error
	for _, r := range rules {
		c := compiled{rule: r}
		if r.Classifier == types.ReflexClassifyRegex {
			pattern, err := regexp.Compile(r.Pattern)
			if err != nil {
				if compileErr == nil {
					compileErr = cogerr.Validationf("reflex.Engine.Refresh", "compile %s: %w", r.Name, err)
				}
				continue
			}
			c.pattern = pattern
		}
		compiledRules = append(compiledRules, c)
	}

	e.mu.Lock()
	e.rules = compiledRules
	e.mu.Unlock()
	return compileErr
}

// Run periodically calls Refresh until ctx is cancelled, the long-running
// form the supervisor starts alongside the digest worker.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = e.Refresh(ctx)
		}
	}
}

// Match tests content against every loaded reflex in priority order and
// returns the first match. ok=false means the caller falls through to the
// full Mode Router.
//
// A classifier of "ollama" is never matched here: that classification is
// deferred to a slower LLM-backed step the caller may run itself, since the
// fast path's entire purpose is to avoid a model call on the common case.
func (e *Engine) Match(content string) (Decision, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, c := range e.rules {
		switch c.rule.Classifier {
		case types.ReflexClassifyNone:
			return Decision{ReflexName: c.rule.Name, TargetMode: c.rule.TargetMode, Response: c.rule.Response}, true
		case types.ReflexClassifyRegex:
			if c.pattern != nil && c.pattern.MatchString(content) {
				return Decision{ReflexName: c.rule.Name, TargetMode: c.rule.TargetMode, Response: c.rule.Response}, true
			}
		}
	}
	return Decision{}, false
}

// SyntheticScores builds the §8-compliant score vector for a fired reflex:
// 1.0 for the chosen mode, 0 for every other mode.
func SyntheticScores(mode types.Mode) map[types.Mode]float64 {
	scores := make(map[types.Mode]float64, len(types.AllModes))
	for _, m := range types.AllModes {
		if m == mode {
			scores[m] = 1.0
		} else {
			scores[m] = 0.0
		}
	}
	return scores
}

// Seed is the default rule set for a fresh deployment. Nothing in this
// module inserts it: `cogctl migrate` only creates the schema, and a caller
// that wants these rules stores them itself (store.InsertReflex). Kept small
// and conservative: only bare social gestures fire directly, everything
// else goes through the router so its signals and audit trail apply.
func Seed() []types.CognitiveReflex {
	now := time.Now().UTC()
	return []types.CognitiveReflex{
		{
			Name:       "bare_thanks",
			Classifier: types.ReflexClassifyRegex,
			Pattern:    `(?i)^\s*(thanks|thank you|ty|thx)[.! ]*$`,
			TargetMode: types.ModeAcknowledge,
			Response:   "Anytime.",
			Priority:   10,
			Enabled:    true,
			CreatedAt:  now,
		},
		{
			Name:       "bare_greeting",
			Classifier: types.ReflexClassifyRegex,
			Pattern:    `(?i)^\s*(hi|hello|hey)[.! ]*$`,
			TargetMode: types.ModeAcknowledge,
			Response:   "Hey — what's up?",
			Priority:   10,
			Enabled:    true,
			CreatedAt:  now,
		},
	}
}
