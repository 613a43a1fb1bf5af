package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundaryManager_ForCreatesAndReusesPerThread(t *testing.T) {
	m := NewBoundaryManager()

	a := m.For("thread-1")
	b := m.For("thread-1")
	assert.Same(t, a, b, "same thread ID should reuse the same detector instance")

	c := m.For("thread-2")
	assert.NotSame(t, a, c)
}

func TestBoundaryManager_SetParamsAllAppliesToLiveDetectors(t *testing.T) {
	m := NewBoundaryManager()
	d1 := m.For("thread-1")
	d2 := m.For("thread-2")

	m.SetParamsAll(0.42, 5.0)

	assert.Equal(t, 0.42, d1.Pressure().LeakRate)
	assert.Equal(t, 5.0, d2.Pressure().FireAt)
}

func TestBoundaryManager_Forget(t *testing.T) {
	m := NewBoundaryManager()
	first := m.For("thread-1")
	m.Forget("thread-1")
	second := m.For("thread-1")

	assert.NotSame(t, first, second, "forgetting a thread should drop its detector so the next For recreates it")
}

func TestBoundaryManager_AllPressure(t *testing.T) {
	m := NewBoundaryManager()
	m.For("thread-1")
	m.For("thread-2")

	snapshot := m.AllPressure()
	assert.Len(t, snapshot, 2)
}
