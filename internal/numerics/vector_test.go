package numerics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	})
	t.Run("orthogonal vectors", func(t *testing.T) {
		assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	})
	t.Run("mismatched lengths returns zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Cosine([]float32{1, 0}, []float32{1}))
	})
	t.Run("zero-magnitude vector returns zero", func(t *testing.T) {
		assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 1}))
	})
}

func TestL2Normalize(t *testing.T) {
	v := []float32{3, 4}
	L2Normalize(v)
	assert.InDelta(t, 1.0, float64(Cosine(v, v)), 1e-6)
	assert.InDelta(t, 0.6, float64(v[0]), 1e-5)
	assert.InDelta(t, 0.8, float64(v[1]), 1e-5)
}

func TestRunningMean(t *testing.T) {
	t.Run("empty prior returns a copy of next", func(t *testing.T) {
		got := RunningMean(nil, 0, []float32{1, 2})
		assert.Equal(t, []float32{1, 2}, got)
	})
	t.Run("folds next in count-weighted", func(t *testing.T) {
		got := RunningMean([]float32{2, 2}, 1, []float32{4, 4})
		assert.Equal(t, []float32{3, 3}, got)
	})
}

func TestEWMA(t *testing.T) {
	e := NewEWMA(0.5)
	assert.Equal(t, 1.0, e.Update(1.0)) // first sample seeds the value
	assert.InDelta(t, 1.5, e.Update(2.0), 1e-9)
	assert.Equal(t, e.Value(), 1.5)
}

func TestRollingStats_ZScore(t *testing.T) {
	r := NewRollingStats(3)
	assert.Equal(t, 0.0, r.ZScore(1.0)) // empty window, no stddev yet
	r.ZScore(2.0)
	z := r.ZScore(10.0)
	assert.Greater(t, z, 0.0)
}

func TestRollingStats_WindowEvicts(t *testing.T) {
	r := NewRollingStats(2)
	r.ZScore(1.0)
	r.ZScore(1.0)
	r.ZScore(1.0)
	assert.Len(t, r.window, 2)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, Clamp(2, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}
