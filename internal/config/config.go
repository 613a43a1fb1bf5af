// Package config implements the typed configuration value and its
// precedence chain (spec.md §6): JSON config records in the persistent store
// override defaults.yaml for router_weights and the boundary base params.
// The only value read from the environment is ACT_VERIFICATION_CRITIC; a
// .env file is loaded into the environment first, so it can set that value
// too, and a variable already set in the environment wins over it. No other
// value has an environment or .env override. It is the
// only writer path for the two regulator-owned records (router_weights,
// topic_boundary_base_params) — everything else reads a cached copy that
// refreshes every 60s or on an explicit Invalidate.
//
// Grounded on the teacher's cmd/bud/main.go, which loads .env with
// godotenv before anything else starts, generalized into a standalone,
// reusable loader.
package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cogloop/core/internal/cogerr"
)

// Defaults mirrors config/defaults.yaml, the lowest-precedence tier.
type Defaults struct {
	RouterWeights       map[string]map[string]float64 `yaml:"router_weights"`
	TieBreakMargin      float64                        `yaml:"tie_break_margin"`
	SalienceWeights     types_SalienceWeights           `yaml:"salience_weights"`
	BoundaryBase        BoundaryParams                  `yaml:"boundary_base"`
	ActBudgetIters      int                              `yaml:"act_budget_iters"`
	ActBudgetWallSecs   int                              `yaml:"act_budget_wall_secs"`
	VerificationCritic  bool                             `yaml:"act_verification_critic"`
	ConceptEmbeddingDim int                              `yaml:"concept_embedding_dim"`
}

// types_SalienceWeights avoids an import cycle with internal/types while
// keeping the same field shape for YAML decoding. The decoded value is not
// applied anywhere: salience scoring uses types.DefaultSalienceWeights.
type types_SalienceWeights struct {
	Emotional  float64 `yaml:"emotional"`
	Commitment float64 `yaml:"commitment"`
	Novelty    float64 `yaml:"novelty"`
	Unresolved float64 `yaml:"unresolved"`
}

// BoundaryParams are the topic boundary detector's slow-loop-adjustable base
// parameters (spec.md §4.4, §4.8 Topic Stability Regulator).
type BoundaryParams struct {
	LeakRate             float64 `yaml:"leak_rate"`
	AccumulatorBase      float64 `yaml:"accumulator_base"`
	FastAlpha            float64 `yaml:"fast_alpha"`
	SlowAlpha            float64 `yaml:"slow_alpha"`
	DivergenceThreshold  float64 `yaml:"divergence_threshold"`
	ZThreshold           float64 `yaml:"z_threshold"`
	CooldownMessages     int     `yaml:"cooldown_messages"`
}

// DefaultBoundaryParams is the out-of-the-box boundary detector tuning.
func DefaultBoundaryParams() BoundaryParams {
	return BoundaryParams{
		LeakRate:            0.2,
		AccumulatorBase:     2.0,
		FastAlpha:           0.1,
		SlowAlpha:           0.01,
		DivergenceThreshold: 0.05,
		ZThreshold:          1.5,
		CooldownMessages:    3,
	}
}

// ConfigStore is the persistent-store-backed tier (JSON config records).
// Satisfied by internal/store/postgres.
type ConfigStore interface {
	GetRecord(key string) (map[string]any, bool, error)
	PutRecord(key string, value map[string]any) error
}

// Config is the merged, cached configuration. Only Apply may mutate the
// single-writer fields; everything else is read-only after Load.
type Config struct {
	mu            sync.RWMutex
	defaults      Defaults
	store         ConfigStore
	routerWeights map[string]map[string]float64
	boundaryBase  BoundaryParams
	lastRefresh   time.Time
	refreshEvery  time.Duration
}

// Load loads .env into the environment, reads defaults.yaml, and wires the
// persistent-store tier for router_weights / boundary params. Only
// ACT_VERIFICATION_CRITIC is taken from the environment.
func Load(defaultsPath string, store ConfigStore) (*Config, error) {
	_ = godotenv.Load(".env") // best effort; env vars still win below

	raw, err := os.ReadFile(defaultsPath)
	if err != nil {
		return nil, cogerr.Transientf("config.Load", "read defaults: %w", err)
	}
	d := Defaults{BoundaryBase: DefaultBoundaryParams()}
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, cogerr.Validationf("config.Load", "parse defaults: %w", err)
	}
	if d.ConceptEmbeddingDim == 0 {
		d.ConceptEmbeddingDim = 768
	}
	if d.ActBudgetIters == 0 {
		d.ActBudgetIters = 7
	}
	if d.ActBudgetWallSecs == 0 {
		d.ActBudgetWallSecs = 60
	}
	if d.TieBreakMargin == 0 {
		d.TieBreakMargin = 0.08
	}

	c := &Config{
		defaults:     d,
		store:        store,
		boundaryBase: d.BoundaryBase,
		refreshEvery: 60 * time.Second,
	}
	c.routerWeights = cloneWeights(d.RouterWeights)
	c.refreshLocked()
	return c, nil
}

func cloneWeights(in map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64, len(in))
	for mode, signals := range in {
		m := make(map[string]float64, len(signals))
		for k, v := range signals {
			m[k] = v
		}
		out[mode] = m
	}
	return out
}

// RouterWeights returns a cached snapshot, refreshing from the store if the
// 60s cache window has elapsed.
func (c *Config) RouterWeights() map[string]map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRefresh) > c.refreshEvery {
		c.refreshLocked()
	}
	return cloneWeights(c.routerWeights)
}

// BoundaryParams returns the topic boundary detector's current base
// parameters, refreshing from the store on the same 60s cadence.
func (c *Config) BoundaryParams() BoundaryParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.lastRefresh) > c.refreshEvery {
		c.refreshLocked()
	}
	return c.boundaryBase
}

// TieBreakMargin is the router's margin threshold (tau_tie).
func (c *Config) TieBreakMargin() float64 { return c.defaults.TieBreakMargin }

// ActBudgetIters is the ACT loop's default iteration budget.
func (c *Config) ActBudgetIters() int { return c.defaults.ActBudgetIters }

// ActBudgetWall is the ACT loop's default wall-clock budget.
func (c *Config) ActBudgetWall() time.Duration {
	return time.Duration(c.defaults.ActBudgetWallSecs) * time.Second
}

// VerificationCriticEnabled reports whether the opt-in verification critic
// runs in the ACT loop (SPEC_FULL Open Question decision #2).
func (c *Config) VerificationCriticEnabled() bool {
	if v := os.Getenv("ACT_VERIFICATION_CRITIC"); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return c.defaults.VerificationCritic
}

// ConceptEmbeddingDim is the configured fallback dimension, used only when
// the persistent store has no rows to introspect at boot.
func (c *Config) ConceptEmbeddingDim() int { return c.defaults.ConceptEmbeddingDim }

// Invalidate forces the next read to refresh from the store immediately.
func (c *Config) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRefresh = time.Time{}
}

func (c *Config) refreshLocked() {
	c.lastRefresh = time.Now()
	if c.store == nil {
		return
	}
	if rec, ok, err := c.store.GetRecord("router_weights"); err == nil && ok {
		if weights, ok := decodeWeights(rec); ok {
			c.routerWeights = weights
		}
	}
	if rec, ok, err := c.store.GetRecord("topic_boundary_base_params"); err == nil && ok {
		if bp, ok := decodeBoundary(rec); ok {
			c.boundaryBase = bp
		}
	}
}

func decodeWeights(rec map[string]any) (map[string]map[string]float64, bool) {
	out := make(map[string]map[string]float64, len(rec))
	for mode, v := range rec {
		signals, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		m := make(map[string]float64, len(signals))
		for k, sv := range signals {
			f, ok := sv.(float64)
			if !ok {
				return nil, false
			}
			m[k] = f
		}
		out[mode] = m
	}
	return out, true
}

func decodeBoundary(rec map[string]any) (BoundaryParams, bool) {
	bp := DefaultBoundaryParams()
	get := func(k string, dst *float64) {
		if v, ok := rec[k].(float64); ok {
			*dst = v
		}
	}
	get("leak_rate", &bp.LeakRate)
	get("accumulator_base", &bp.AccumulatorBase)
	get("fast_alpha", &bp.FastAlpha)
	get("slow_alpha", &bp.SlowAlpha)
	get("divergence_threshold", &bp.DivergenceThreshold)
	get("z_threshold", &bp.ZThreshold)
	if v, ok := rec["cooldown_messages"].(float64); ok {
		bp.CooldownMessages = int(v)
	}
	return bp, true
}

// applyAuthority is the single entry point regulators must go through to
// mutate a single-writer record. Callers outside internal/regulator never
// hold a *Config with write access to these keys in practice, but the check
// is enforced here too so a misuse is a hard authority error rather than a
// silent write.
func (c *Config) applyAuthority(owner, key string, value map[string]any) error {
	if c.store == nil {
		return cogerr.Authorityf("config.Apply", "no persistent store configured for %s", key)
	}
	if err := c.store.PutRecord(key, value); err != nil {
		return cogerr.Transientf("config.Apply", "persist %s: %w", key, err)
	}
	c.Invalidate()
	return nil
}

// RouterWeightsWriter is implemented by internal/regulator's routing
// stability regulator — the single writer of router_weights.
type RouterWeightsWriter interface {
	ApplyRouterWeights(c *Config, weights map[string]map[string]float64) error
}

// ApplyRouterWeights is the authority-checked write path for router_weights.
// owner must be the literal string "routing_stability_regulator".
func (c *Config) ApplyRouterWeights(owner string, weights map[string]map[string]float64) error {
	if owner != "routing_stability_regulator" {
		return cogerr.Authorityf("config.ApplyRouterWeights", "writer %q is not the router weights owner", owner)
	}
	rec := make(map[string]any, len(weights))
	for mode, signals := range weights {
		m := make(map[string]any, len(signals))
		for k, v := range signals {
			m[k] = v
		}
		rec[mode] = m
	}
	return c.applyAuthority(owner, "router_weights", rec)
}

// ApplyBoundaryParams is the authority-checked write path for
// topic_boundary_base_params. owner must be the literal string
// "topic_stability_regulator".
func (c *Config) ApplyBoundaryParams(owner string, bp BoundaryParams) error {
	if owner != "topic_stability_regulator" {
		return cogerr.Authorityf("config.ApplyBoundaryParams", "writer %q is not the boundary params owner", owner)
	}
	rec := map[string]any{
		"leak_rate":            bp.LeakRate,
		"accumulator_base":     bp.AccumulatorBase,
		"fast_alpha":           bp.FastAlpha,
		"slow_alpha":           bp.SlowAlpha,
		"divergence_threshold": bp.DivergenceThreshold,
		"z_threshold":          bp.ZThreshold,
		"cooldown_messages":    bp.CooldownMessages,
	}
	return c.applyAuthority(owner, "topic_boundary_base_params", rec)
}
