package regulator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogloop/core/internal/config"
	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/topic"
)

func TestTopic_Tick_AppliesBoundedUpdate(t *testing.T) {
	store := newTestConfigStore()
	cfg := mustLoadTestConfig(t, store)
	j := journal.New(t.TempDir())
	mgr := topic.NewBoundaryManager()
	reg := NewTopic(cfg, j, mgr)

	require.NoError(t, j.LogPressure(PressureAccumulatorBase, 0.05, "boundary_monitor"))

	reg.Tick(context.Background())

	got := cfg.BoundaryParams()
	assert.InDelta(t, 2.02, got.AccumulatorBase, 1e-9) // clamped to +0.02/day max
}

func TestTopic_Tick_NoPressureIsNoop(t *testing.T) {
	store := newTestConfigStore()
	cfg := mustLoadTestConfig(t, store)
	j := journal.New(t.TempDir())
	mgr := topic.NewBoundaryManager()
	reg := NewTopic(cfg, j, mgr)

	reg.Tick(context.Background())

	assert.Equal(t, config.DefaultBoundaryParams(), cfg.BoundaryParams())
}

func TestTopic_Tick_CooldownHoldsSecondChangeWithin48h(t *testing.T) {
	store := newTestConfigStore()
	cfg := mustLoadTestConfig(t, store)
	j := journal.New(t.TempDir())
	mgr := topic.NewBoundaryManager()
	reg := NewTopic(cfg, j, mgr)

	require.NoError(t, j.LogPressure(PressureAccumulatorBase, 0.05, "boundary_monitor"))
	reg.Tick(context.Background())
	firstValue := cfg.BoundaryParams().AccumulatorBase

	require.NoError(t, j.LogPressure(PressureAccumulatorBase, 0.05, "boundary_monitor"))
	reg.Tick(context.Background())

	assert.Equal(t, firstValue, cfg.BoundaryParams().AccumulatorBase)
}
