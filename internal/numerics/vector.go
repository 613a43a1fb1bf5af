// Package numerics is the small fixed-length vector math module the rest of
// the pipeline shares: cosine similarity, running means, L2 normalization,
// and the EWMA/z-score primitives the adaptive boundary detector is built
// from. Grounded on the teacher's internal/graph/activation.go (decay and
// cosine math) and internal/filter/entropy.go (semantic-divergence z-score
// style), generalized to use gonum's vector ops instead of hand-rolled
// per-element loops.
package numerics

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// Cosine returns the cosine similarity of a and b. Returns 0 if either
// vector has zero magnitude or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	af := toFloat64(a)
	bf := toFloat64(b)
	na := floats.Norm(af, 2)
	nb := floats.Norm(bf, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(af, bf) / (na * nb)
}

// L2Normalize scales v in place to unit length. No-op on a zero vector.
func L2Normalize(v []float32) {
	f := toFloat64(v)
	n := floats.Norm(f, 2)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(f[i] / n)
	}
}

// RunningMean folds next into the count-weighted running average of prior
// (which has already absorbed `count` observations), returning the updated
// vector. Callers L2-normalize the result when the invariant requires a unit
// vector (topics.RollingEmbedding does; episode centroids do not).
func RunningMean(prior []float32, count int, next []float32) []float32 {
	if len(prior) == 0 {
		out := make([]float32, len(next))
		copy(out, next)
		return out
	}
	out := make([]float32, len(prior))
	n := float64(count)
	for i := range out {
		out[i] = float32((float64(prior[i])*n + float64(next[i])) / (n + 1))
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// EWMA is a single exponentially-weighted moving average accumulator.
type EWMA struct {
	Alpha     float64
	value     float64
	hasValue  bool
}

// NewEWMA constructs an accumulator with the given smoothing factor.
func NewEWMA(alpha float64) *EWMA {
	return &EWMA{Alpha: alpha}
}

// Update folds in a new sample and returns the updated value.
func (e *EWMA) Update(sample float64) float64 {
	if !e.hasValue {
		e.value = sample
		e.hasValue = true
		return e.value
	}
	e.value = e.Alpha*sample + (1-e.Alpha)*e.value
	return e.value
}

// Value returns the current estimate.
func (e *EWMA) Value() float64 { return e.value }

// RollingStats maintains a fixed-size rolling window mean/variance for
// z-score computation (the boundary detector's Transient Surprise signal).
type RollingStats struct {
	window []float64
	size   int
}

// NewRollingStats creates a window of the given capacity.
func NewRollingStats(size int) *RollingStats {
	return &RollingStats{size: size}
}

// ZScore folds sample into the window and returns its z-score against the
// window's mean/stddev *before* the fold (so a single outlier doesn't erase
// itself from the statistic that scores it).
func (r *RollingStats) ZScore(sample float64) float64 {
	mean, std := r.meanStd()
	z := 0.0
	if std > 1e-9 {
		z = (sample - mean) / std
	}
	r.window = append(r.window, sample)
	if len(r.window) > r.size {
		r.window = r.window[len(r.window)-r.size:]
	}
	return z
}

func (r *RollingStats) meanStd() (float64, float64) {
	if len(r.window) == 0 {
		return 0, 0
	}
	mean := floats.Sum(r.window) / float64(len(r.window))
	var ss float64
	for _, x := range r.window {
		d := x - mean
		ss += d * d
	}
	variance := ss / float64(len(r.window))
	return mean, math.Sqrt(variance)
}

// Clamp restricts x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
