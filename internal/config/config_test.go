package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefaults = `
router_weights:
  ACT:
    freshness_risk: 0.50
tie_break_margin: 0.08
boundary_base:
  leak_rate: 0.2
  accumulator_base: 2.0
  fast_alpha: 0.1
  slow_alpha: 0.01
  divergence_threshold: 0.05
  z_threshold: 1.5
  cooldown_messages: 3
`

func writeDefaults(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDefaults), 0644))
	return path
}

type fakeStore struct {
	records map[string]map[string]any
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]map[string]any)}
}

func (f *fakeStore) GetRecord(key string) (map[string]any, bool, error) {
	rec, ok := f.records[key]
	return rec, ok, nil
}

func (f *fakeStore) PutRecord(key string, value map[string]any) error {
	f.records[key] = value
	return nil
}

func TestLoad_NilStoreIsSafe(t *testing.T) {
	cfg, err := Load(writeDefaults(t), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.50, cfg.RouterWeights()["ACT"]["freshness_risk"])
	assert.Equal(t, 0.08, cfg.TieBreakMargin())
}

func TestLoad_PicksUpPersistedStoreState(t *testing.T) {
	store := newFakeStore()
	store.records["router_weights"] = map[string]any{
		"ACT": map[string]any{"freshness_risk": 0.62},
	}

	cfg, err := Load(writeDefaults(t), store)
	require.NoError(t, err)
	assert.Equal(t, 0.62, cfg.RouterWeights()["ACT"]["freshness_risk"])
}

func TestApplyRouterWeights_RejectsWrongOwner(t *testing.T) {
	store := newFakeStore()
	cfg, err := Load(writeDefaults(t), store)
	require.NoError(t, err)

	err = cfg.ApplyRouterWeights("someone_else", map[string]map[string]float64{"ACT": {"freshness_risk": 0.7}})
	assert.Error(t, err)
}

func TestApplyRouterWeights_PersistsAndInvalidates(t *testing.T) {
	store := newFakeStore()
	cfg, err := Load(writeDefaults(t), store)
	require.NoError(t, err)

	require.NoError(t, cfg.ApplyRouterWeights("routing_stability_regulator", map[string]map[string]float64{
		"ACT": {"freshness_risk": 0.52},
	}))
	assert.Equal(t, 0.52, cfg.RouterWeights()["ACT"]["freshness_risk"])

	rec, ok, err := store.GetRecord("router_weights")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.52, rec["ACT"].(map[string]any)["freshness_risk"])
}

func TestApplyRouterWeights_NoStoreConfigured(t *testing.T) {
	cfg, err := Load(writeDefaults(t), nil)
	require.NoError(t, err)
	err = cfg.ApplyRouterWeights("routing_stability_regulator", map[string]map[string]float64{"ACT": {"x": 1}})
	assert.Error(t, err)
}

func TestApplyBoundaryParams_RejectsWrongOwner(t *testing.T) {
	store := newFakeStore()
	cfg, err := Load(writeDefaults(t), store)
	require.NoError(t, err)

	err = cfg.ApplyBoundaryParams("someone_else", DefaultBoundaryParams())
	assert.Error(t, err)
}
