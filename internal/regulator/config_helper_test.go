package regulator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogloop/core/internal/config"
)

const testDefaultsYAML = `
router_weights:
  ACT:
    freshness_risk: 0.50
  RESPOND:
    freshness_risk: -0.6
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

type testConfigStore struct {
	records map[string]map[string]any
}

func newTestConfigStore() *testConfigStore {
	return &testConfigStore{records: make(map[string]map[string]any)}
}

func (s *testConfigStore) GetRecord(key string) (map[string]any, bool, error) {
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *testConfigStore) PutRecord(key string, value map[string]any) error {
	s.records[key] = value
	return nil
}

func mustLoadTestConfig(t *testing.T, store config.ConfigStore) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDefaultsYAML), 0644))
	cfg, err := config.Load(path, store)
	require.NoError(t, err)
	return cfg
}
