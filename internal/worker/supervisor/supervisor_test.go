package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSupervisor_RunsRegisteredTasksAndReportsStatus(t *testing.T) {
	sup := New()
	started := make(chan struct{})
	sup.Register(Task{Name: "steady", Run: func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}
	assert.Equal(t, "running", sup.Status()["steady"])

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
	assert.Equal(t, "stopped", sup.Status()["steady"])
}

func TestSupervisor_RestartsTaskThatReturnsEarly(t *testing.T) {
	sup := New()
	var calls atomic.Int32
	sup.Register(Task{Name: "flaky", Run: func(ctx context.Context) {
		calls.Add(1)
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 3*restartBackoffMin+500*time.Millisecond)
	defer cancel()
	sup.Run(ctx)

	assert.GreaterOrEqual(t, int(calls.Load()), 2)
}

func TestSupervisor_RecoversFromPanickingTask(t *testing.T) {
	sup := New()
	var calls atomic.Int32
	sup.Register(Task{Name: "panicky", Run: func(ctx context.Context) {
		calls.Add(1)
		if calls.Load() == 1 {
			panic("boom")
		}
		<-ctx.Done()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sup.Run(ctx)

	assert.Equal(t, int32(2), calls.Load())
}

func TestHostWatcher_DefaultsAllowTrafficUntilPolled(t *testing.T) {
	h := NewHostWatcher()
	assert.True(t, h.Allow())
}

func TestHostWatcher_SetThresholds(t *testing.T) {
	h := NewHostWatcher()
	h.SetThresholds(10, 20)
	assert.Equal(t, 10.0, h.cpuThreshold)
	assert.Equal(t, 20.0, h.memThreshold)
}
