package regulator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cogloop/core/internal/types"
)

func TestFlattenAndNestWeights_RoundTrip(t *testing.T) {
	nested := map[string]map[string]float64{
		"ACT":     {"freshness_risk": 0.50, "tool_trigger_count": 1.1},
		"RESPOND": {"context_warmth": 0.9},
	}
	flat := flattenWeights(nested)
	assert.Equal(t, 0.50, flat["ACT|freshness_risk"])
	assert.Equal(t, 0.9, flat["RESPOND|context_warmth"])

	roundTripped := nestWeights(flat)
	assert.Equal(t, nested, roundTripped)
}

func TestTopTwo(t *testing.T) {
	top1, top2 := topTwo(map[types.Mode]float64{
		types.ModeAct:     1.5,
		types.ModeRespond:  0.9,
		types.ModeClarify: -0.2,
	})
	assert.Equal(t, 1.5, top1)
	assert.Equal(t, 0.9, top2)
}

func TestConfidenceWith(t *testing.T) {
	d := types.RoutingDecision{
		SignalSnapshot: map[string]float64{"freshness_risk": 1.0},
	}
	weights := map[string]float64{
		"ACT|freshness_risk":         1.4,
		"RESPOND|freshness_risk":     -0.6,
		"CLARIFY|freshness_risk":     0,
		"ACKNOWLEDGE|freshness_risk": 0,
	}
	got := confidenceWith(d, weights)
	assert.Greater(t, got, 0.0)
	assert.LessOrEqual(t, got, 1.0)
}

func TestReplayImproves_EmptySampleAlwaysPasses(t *testing.T) {
	assert.True(t, replayImproves(nil, map[string]float64{}, map[string]float64{}))
}

func TestReplayImproves_RejectsWorseCandidate(t *testing.T) {
	decisions := []types.RoutingDecision{
		{SignalSnapshot: map[string]float64{"freshness_risk": 1.0}},
	}
	current := map[string]float64{
		"ACT|freshness_risk": 1.4, "RESPOND|freshness_risk": 0.6,
		"CLARIFY|freshness_risk": 0, "ACKNOWLEDGE|freshness_risk": 0,
	}
	// Candidate collapses ACT's weight toward RESPOND's, shrinking its margin.
	candidate := map[string]float64{
		"ACT|freshness_risk": 0.7, "RESPOND|freshness_risk": 0.6,
		"CLARIFY|freshness_risk": 0, "ACKNOWLEDGE|freshness_risk": 0,
	}
	assert.False(t, replayImproves(decisions, current, candidate))
}
