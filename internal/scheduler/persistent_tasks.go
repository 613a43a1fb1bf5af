package scheduler

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// persistentPollInterval mirrors the due-item sweep; act.RunPersistentTask's
// own NextRunAfter stamping (a minimum 1h gap between advances) is what
// actually throttles any one task, not this poller's cadence.
const persistentPollInterval = 60 * time.Second

const persistentBatch = 20

// LoopFactory builds the bounded ACT loop a PersistentTask advances through.
// Supplied by the process wiring everything else the loop needs (planner,
// prompt builder, tool registry, fatigue tracker) into a single call.
type LoopFactory func(task *types.PersistentTask) *act.Loop

// PersistentTasks polls persistent_tasks for work whose NextRunAfter has
// elapsed and advances each one iteration further via act.RunPersistentTask.
type PersistentTasks struct {
	store       *postgres.Store
	loopFactory LoopFactory
}

func NewPersistentTasks(store *postgres.Store, loopFactory LoopFactory) *PersistentTasks {
	return &PersistentTasks{store: store, loopFactory: loopFactory}
}

// Run sweeps every persistentPollInterval until ctx is cancelled.
func (p *PersistentTasks) Run(ctx context.Context) {
	ticker := time.NewTicker(persistentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick(ctx)
		}
	}
}

// Tick advances every currently-due task by one bounded ACT run.
func (p *PersistentTasks) Tick(ctx context.Context) {
	l := logging.For("scheduler.persistent")
	tasks, err := p.store.DueTasks(ctx, persistentBatch)
	if err != nil {
		l.Error().Err(err).Msg("load due tasks")
		return
	}
	for i := range tasks {
		task := tasks[i]
		loop := p.loopFactory(&task)
		if _, err := act.RunPersistentTask(ctx, loop, p.store, &task); err != nil {
			l.Warn().Err(err).Str("task", task.ID).Msg("advance persistent task failed")
		}
	}
}
