package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogPressure_AggregatesByKey(t *testing.T) {
	j := New(t.TempDir())

	require.NoError(t, j.LogPressure("freshness_risk", 0.05, "reflex_engine"))
	require.NoError(t, j.LogPressure("freshness_risk", 0.02, "routing_reflection"))
	require.NoError(t, j.LogPressure("accumulator_base", 0.01, "boundary_monitor"))

	total, err := j.PressureSince("freshness_risk", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.07, total, 1e-9)
}

func TestPressureSince_CutoffExcludesOlderEntries(t *testing.T) {
	j := New(t.TempDir())
	require.NoError(t, j.Log(Entry{
		Type:      EntryPressure,
		Key:       "freshness_risk",
		Delta:     0.05,
		Source:    "reflex_engine",
		Timestamp: time.Now().Add(-48 * time.Hour),
	}))
	require.NoError(t, j.LogPressure("freshness_risk", 0.02, "routing_reflection"))

	total, err := j.PressureSince("freshness_risk", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.02, total, 1e-9)
}

func TestKeys_DistinctAndOrdered(t *testing.T) {
	j := New(t.TempDir())
	require.NoError(t, j.LogPressure("leak_rate", 0.01, "a"))
	require.NoError(t, j.LogPressure("leak_rate", 0.01, "b"))
	require.NoError(t, j.LogPressure("accumulator_base", 0.01, "c"))

	keys, err := j.Keys(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"leak_rate", "accumulator_base"}, keys)
}

func TestSince_MissingFileReturnsEmpty(t *testing.T) {
	j := New(t.TempDir())
	entries, err := j.Since(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
