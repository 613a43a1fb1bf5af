package regulator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogloop/core/internal/journal"
	"github.com/cogloop/core/internal/topic"
)

func TestMonitor_Nudge(t *testing.T) {
	j := journal.New(t.TempDir())
	m := NewMonitor(j, "reflex_engine")

	require.NoError(t, m.Nudge("freshness_risk", 0.05))

	total, err := j.PressureSince("freshness_risk", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.05, total, 1e-9)
}

func TestMonitor_ObserveBoundaries_BelowTargetNudgesNothing(t *testing.T) {
	j := journal.New(t.TempDir())
	m := NewMonitor(j, "boundary_monitor")

	require.NoError(t, m.ObserveBoundaries([]topic.PressureSignals{
		{Accumulator: 1.0, FireAt: 2.0},
	}))

	keys, err := j.Keys(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMonitor_ObserveBoundaries_AboveTargetNudgesAccumulatorBase(t *testing.T) {
	j := journal.New(t.TempDir())
	m := NewMonitor(j, "boundary_monitor")

	require.NoError(t, m.ObserveBoundaries([]topic.PressureSignals{
		{Accumulator: 1.9, FireAt: 2.0},
	}))

	total, err := j.PressureSince("accumulator_base", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.01, total, 1e-9)
}

func TestMonitor_ObserveBoundaries_EmptyIsNoop(t *testing.T) {
	j := journal.New(t.TempDir())
	m := NewMonitor(j, "boundary_monitor")
	assert.NoError(t, m.ObserveBoundaries(nil))
}
