package router

import (
	"context"

	"github.com/cogloop/core/internal/config"
	"github.com/cogloop/core/internal/types"
)

// ConfigWeightStore adapts the shared *config.Config (which already
// maintains the ≤60s reader cache over the router_weights config record)
// into the flat "mode|signal" map Router.Decide scores against.
type ConfigWeightStore struct {
	cfg *config.Config
}

func NewConfigWeightStore(cfg *config.Config) *ConfigWeightStore {
	return &ConfigWeightStore{cfg: cfg}
}

func (s *ConfigWeightStore) RouterWeights(ctx context.Context) (map[string]float64, error) {
	nested := s.cfg.RouterWeights()
	flat := make(map[string]float64, len(nested)*18)
	for mode, signals := range nested {
		for sig, w := range signals {
			flat[mode+"|"+sig] = w
		}
	}
	if len(flat) == 0 {
		flat = DefaultWeights()
	}
	return flat, nil
}

// DefaultWeights mirrors config/defaults.yaml's router_weights block,
// flattened to "mode|signal" keys. Used only when defaults.yaml and the
// persistent store both have nothing to offer — in practice Load always
// supplies defaults.yaml, so this exists mainly for tests that construct a
// Router without a Config.
func DefaultWeights() map[string]float64 {
	modeBias := map[types.Mode]map[string]float64{
		types.ModeRespond: {
			"context_warmth": 0.9, "memory_confidence": 0.6,
			"greeting_pattern": -0.5, "freshness_risk": -0.6,
		},
		types.ModeAct: {
			"freshness_risk": 1.4, "tool_trigger_count": 1.1,
			"imperative_verb_count": 0.5, "question_mark_count": 0.2,
		},
		types.ModeClarify: {
			"memory_confidence": -0.8, "fact_count": -0.3, "question_mark_count": 0.4,
		},
		types.ModeAcknowledge: {
			"greeting_pattern": 1.3, "turns_in_topic": -0.2,
		},
	}
	weights := make(map[string]float64, 32)
	for mode, signals := range modeBias {
		for sig, w := range signals {
			weights[string(mode)+"|"+sig] = w
		}
	}
	return weights
}
