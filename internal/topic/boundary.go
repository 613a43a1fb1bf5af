package topic

import (
	"math"

	"github.com/cogloop/core/internal/numerics"
)

// Boundary detector tuning constants (spec.md §4.4): the factory defaults a
// fresh BoundaryDetector starts from. The Topic Stability Regulator's base
// params are held separately by config (config.BoundaryParams, with their
// own defaults); the regulator pushes only the leak rate and fire threshold
// to live detectors, via SetParams, and the other constants here are fixed.
const (
	newmaFastAlpha    = 0.1
	newmaSlowAlpha    = 0.01
	surpriseWindow    = 20
	accumulatorFire   = 2.0
	defaultLeakRate   = 0.3
	coldStartMessages = 5
	coldStartStatic   = 0.55
	cooldownMessages  = 3

	tauDivergence = 0.05
	tauSurpriseZ  = 1.0
)

// BoundaryDetector implements the adaptive topic-boundary algorithm: a
// NEWMA divergence signal, a transient-surprise z-score signal, and a leaky
// accumulator that fires a split when their combined contribution
// accumulates past a threshold. Falls back to a static cosine-similarity
// threshold until enough messages have been observed to trust the adaptive
// state (cold start).
type BoundaryDetector struct {
	fast *numerics.EWMA
	slow *numerics.EWMA
	zwin *numerics.RollingStats

	accumulator   float64
	messagesSeen  int
	cooldownLeft  int
	accumFireAt   float64
	leakRate      float64
	coldThreshold float64
}

// NewBoundaryDetector constructs a detector at its factory defaults.
func NewBoundaryDetector() *BoundaryDetector {
	return &BoundaryDetector{
		fast:          numerics.NewEWMA(newmaFastAlpha),
		slow:          numerics.NewEWMA(newmaSlowAlpha),
		zwin:          numerics.NewRollingStats(surpriseWindow),
		leakRate:      defaultLeakRate,
		accumFireAt:   accumulatorFire,
		coldThreshold: coldStartStatic,
	}
}

// SetParams lets the Topic Stability Regulator apply its bounded daily
// tuning update to the live detector (spec.md §4.8). Only the regulator may
// call this; everything else only reads Observe's return value.
func (b *BoundaryDetector) SetParams(leakRate, fireAt float64) {
	b.leakRate = leakRate
	b.accumFireAt = fireAt
}

// Observe folds in one message's similarity-to-current-topic score (s*, in
// [0,1], e.g. cosine similarity to the topic's rolling embedding) and
// reports whether a topic boundary fires here.
func (b *BoundaryDetector) Observe(similarity float64) (fires bool) {
	b.messagesSeen++

	inCooldown := b.cooldownLeft > 0
	if inCooldown {
		b.cooldownLeft--
	}

	if b.messagesSeen < coldStartMessages {
		return similarity < b.coldThreshold
	}

	muFast := b.fast.Update(similarity)
	muSlow := b.slow.Update(similarity)
	divergence := muSlow - muFast

	z := b.zwin.ZScore(similarity)

	contribution := numerics.Clamp((divergence-tauDivergence)+(-z-tauSurpriseZ), 0, 1)
	b.accumulator = math.Max(0, b.accumulator*(1-b.leakRate)+contribution)

	if b.accumulator >= b.accumFireAt && !inCooldown {
		b.accumulator = 0
		b.cooldownLeft = cooldownMessages
		return true
	}
	return false
}

// Reset clears all accumulated state, used when a thread starts fresh.
func (b *BoundaryDetector) Reset() {
	*b = *NewBoundaryDetector()
}

// PressureSignals reports the inputs the Topic Stability Regulator's 24h
// tuning pass reads: how often the detector is firing versus sitting idle,
// used alongside observed false-split/missed-split rates from thread
// feedback to decide whether leak_rate or accumulator_fire need nudging.
type PressureSignals struct {
	Accumulator  float64
	MessagesSeen int
	LeakRate     float64
	FireAt       float64
}

func (b *BoundaryDetector) Pressure() PressureSignals {
	return PressureSignals{
		Accumulator:  b.accumulator,
		MessagesSeen: b.messagesSeen,
		LeakRate:     b.leakRate,
		FireAt:       b.accumFireAt,
	}
}
