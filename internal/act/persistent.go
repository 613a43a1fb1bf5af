package act

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/types"
)

// TaskExpiry is T_task (spec.md §3): inactivity past this window expires a
// PROPOSED/ACCEPTED/IN_PROGRESS task.
const TaskExpiry = 14 * 24 * time.Hour

// PersistentMaxIterations is the default bound for one scheduler-driven
// ACT pass over a persistent task (spec.md §4.6), distinct from a live
// cycle's BudgetIterations.
const PersistentMaxIterations = 20

// CoverageThreshold is the coverage_estimate at or above which a persistent
// task transitions to COMPLETED, however the pass ended. The planner's
// task_complete flag does not complete a task on its own: a pass that ends
// with a final response while coverage is below this threshold leaves the
// task IN_PROGRESS.
const CoverageThreshold = 0.95

// PersistentFatigueBudget is the fatigue allowance a newly escalated task
// starts with, spent across every scheduler-driven pass over its lifetime
// rather than the much smaller per-cycle fatigueBudget.
const PersistentFatigueBudget = 20.0

// SummarizeHistory renders a bounded, human-readable trace of an ACT run's
// dispatched actions, used as a persistent task's starting scope when the
// run escalates instead of concluding (spec.md §4.6 step 5: "scope :=
// act_history summary").
func SummarizeHistory(history []Result) string {
	var b []byte
	for _, r := range history {
		line := "- " + r.Action.Tool
		if r.Err != nil {
			line += ": error: " + r.Err.Error()
		} else if r.Output != "" {
			line += ": " + r.Output
		}
		b = append(b, line...)
		b = append(b, '\n')
	}
	return string(b)
}

// TaskStore is the narrow persistence contract the persistent-task runner
// needs; satisfied by internal/store/postgres.Store.
type TaskStore interface {
	UpdatePersistentTask(ctx context.Context, t *types.PersistentTask) error
}

// RunPersistentTask drives one bounded ACT pass for a PersistentTask that is
// due (next_run_after <= now), then persists its updated status/progress.
// Called by the scheduler's persistent-task poller (spec.md §4.9).
func RunPersistentTask(ctx context.Context, loop *Loop, store TaskStore, task *types.PersistentTask) (Outcome, error) {
	maxIter := task.MaxIterations
	if maxIter <= 0 {
		maxIter = PersistentMaxIterations
	}
	bounded := loop.WithBudgets(maxIter, BudgetWall*time.Duration(maxIter)/BudgetIterations)

	outcome, err := bounded.Run(ctx, task.AccountID)
	if err != nil {
		return outcome, err
	}

	task.IterationsUsed += outcome.IterationsUsed
	task.LastSummary = outcome.Response
	now := time.Now().UTC()

	switch {
	case task.CoverageEstimate >= CoverageThreshold:
		task.Status = types.TaskCompleted
	case outcome.ExitReason == ExitDone && outcome.Response != "":
		task.Status = types.TaskInProgress
		task.NextRunAfter = now.Add(1 * time.Hour)
	case task.ExpiresAt.Before(now):
		task.Status = types.TaskExpired
	default:
		task.Status = types.TaskInProgress
		task.NextRunAfter = now.Add(1 * time.Hour)
	}

	if err := store.UpdatePersistentTask(ctx, task); err != nil {
		return outcome, err
	}
	return outcome, nil
}
