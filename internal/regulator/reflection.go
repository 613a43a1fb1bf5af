package regulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// reflectionPollInterval is how often the reflection worker checks for
// unreflected decisions. The codebase has no global idle detector (only
// worker/supervisor.HostWatcher's load gate), so "idle-time" is approximated
// as a low-frequency poll rather than tied to an explicit idle signal.
const reflectionPollInterval = 15 * time.Minute

// reflectionBatch bounds how many decisions one pass evaluates.
const reflectionBatch = 20

// reflectionModel is the stronger model routing reflection calls, per
// llm.Request.Model's doc comment.
const reflectionModel = "claude-opus-4"

type reflectionVerdict struct {
	Good         bool               `json:"good"`
	Rationale    string             `json:"rationale"`
	WeightDeltas map[string]float64 `json:"weight_deltas"`
}

// Reflection is the idle-time worker that judges past routing decisions
// with a strong model and writes the verdict back, feeding the Routing
// Stability Regulator's next cycle via pressure entries.
type Reflection struct {
	store   *postgres.Store
	planner llm.Provider
	monitor *Monitor
}

func NewReflection(store *postgres.Store, planner llm.Provider, monitor *Monitor) *Reflection {
	return &Reflection{store: store, planner: planner, monitor: monitor}
}

// Run polls for unreflected decisions until ctx is cancelled.
func (r *Reflection) Run(ctx context.Context) {
	ticker := time.NewTicker(reflectionPollInterval)
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

// Tick evaluates one batch of unreflected decisions.
func (r *Reflection) Tick(ctx context.Context) {
	l := logging.For("regulator.reflection")
	decisions, err := r.store.UnreflectedRoutingDecisions(ctx, reflectionBatch)
	if err != nil {
		l.Error().Err(err).Msg("load unreflected decisions")
		return
	}
	for _, d := range decisions {
		if err := r.reflectOne(ctx, d); err != nil {
			l.Warn().Err(err).Str("decision", d.ID).Msg("reflection failed, skipping")
		}
	}
}

func (r *Reflection) reflectOne(ctx context.Context, d types.RoutingDecision) error {
	verdict, err := r.evaluate(ctx, d)
	if err != nil {
		return err
	}

	reflection := map[string]any{
		"good":          verdict.Good,
		"rationale":     verdict.Rationale,
		"weight_deltas": verdict.WeightDeltas,
		"reflected_at":  time.Now().UTC(),
	}
	if err := r.store.AppendRoutingReflection(ctx, d.ID, reflection); err != nil {
		return err
	}

	for key, delta := range verdict.WeightDeltas {
		if err := r.monitor.Nudge(key, delta); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reflection) evaluate(ctx context.Context, d types.RoutingDecision) (reflectionVerdict, error) {
	var sig strings.Builder
	for k, v := range d.SignalSnapshot {
		fmt.Fprintf(&sig, "%s=%.3f ", k, v)
	}

	req := llm.Request{
		Model: reflectionModel,
		System: `You are reviewing one past routing decision made by an automated assistant. Judge whether the
selected mode was the right call given the signals, and, if not, suggest small corrective nudges to the
weights that drove the decision (keys formatted "MODE|signal", magnitude well under 0.1). Reply with a
single JSON object: {"good":true,"rationale":"","weight_deltas":{"MODE|signal":0.0}}. Reply with JSON only,
no prose.`,
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(
			"topic=%s selected_mode=%s confidence=%.3f margin=%.3f tiebreaker_used=%v signals: %s",
			d.Topic, d.SelectedMode, d.RouterConfidence, d.Margin, d.TiebreakerUsed, sig.String(),
		)}},
		MaxTokens: 512,
	}
	resp, err := r.planner.Complete(ctx, req)
	if err != nil {
		return reflectionVerdict{}, err
	}
	var out reflectionVerdict
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return reflectionVerdict{}, cogerr.Validationf("regulator.Reflection.evaluate", "unmarshal: %w", err)
	}
	return out, nil
}
