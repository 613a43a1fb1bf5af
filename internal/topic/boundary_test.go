package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundaryDetector_ColdStartUsesStaticThreshold(t *testing.T) {
	b := NewBoundaryDetector()

	assert.True(t, b.Observe(0.2), "similarity well below the cold-start threshold should fire")
	assert.False(t, b.Observe(0.9), "similarity well above the cold-start threshold should not fire")
}

func TestBoundaryDetector_FiresOnSustainedDivergence(t *testing.T) {
	b := NewBoundaryDetector()

	for i := 0; i < coldStartMessages+10; i++ {
		b.Observe(0.95) // warm up on a single coherent topic
	}

	fired := false
	for i := 0; i < 10 && !fired; i++ {
		fired = b.Observe(0.0) // then switch to a maximally dissimilar stream
	}
	assert.True(t, fired, "a sustained, maximally dissimilar run should eventually cross the fire threshold")
}

func TestBoundaryDetector_CooldownSuppressesImmediateRefire(t *testing.T) {
	b := NewBoundaryDetector()
	for i := 0; i < coldStartMessages+10; i++ {
		b.Observe(0.95)
	}
	fired := false
	for i := 0; i < 10 && !fired; i++ {
		fired = b.Observe(0.0)
	}
	assert.True(t, fired)

	assert.False(t, b.Observe(0.0), "firing resets the accumulator, so the very next message cannot also fire")
}

func TestBoundaryDetector_SetParams(t *testing.T) {
	b := NewBoundaryDetector()
	b.SetParams(0.5, 3.0)

	p := b.Pressure()
	assert.Equal(t, 0.5, p.LeakRate)
	assert.Equal(t, 3.0, p.FireAt)
}

func TestBoundaryDetector_Reset(t *testing.T) {
	b := NewBoundaryDetector()
	for i := 0; i < coldStartMessages+5; i++ {
		b.Observe(0.1)
	}
	assert.NotZero(t, b.Pressure().MessagesSeen)

	b.Reset()
	assert.Zero(t, b.Pressure().MessagesSeen)
	assert.Zero(t, b.Pressure().Accumulator)
}
