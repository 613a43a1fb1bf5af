package postgres

import (
	"context"
	"encoding/json"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// InsertRoutingDecision records the immutable audit row for a single
// routing event.
func (s *Store) InsertRoutingDecision(ctx context.Context, d *types.RoutingDecision) error {
	scores, _ := json.Marshal(d.Scores)
	signals, _ := json.Marshal(d.SignalSnapshot)
	weights, _ := json.Marshal(d.WeightSnapshot)
	var reflection []byte
	if d.Reflection != nil {
		reflection, _ = json.Marshal(d.Reflection)
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO routing_decisions(id, topic, exchange_id, selected_mode, router_confidence, scores, tiebreaker_used,
  margin, effective_margin, signal_snapshot, weight_snapshot, reflection, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		d.ID, d.Topic, d.ExchangeID, d.SelectedMode, d.RouterConfidence, scores, d.TiebreakerUsed,
		d.Margin, d.EffectiveMargin, signals, weights, reflection, d.CreatedAt)
	if err != nil {
		return cogerr.Transientf("postgres.InsertRoutingDecision", "insert: %w", err)
	}
	return nil
}

// AppendRoutingReflection attaches a post-hoc reflection payload to an
// existing decision, the only permitted mutation of a routing_decisions row.
func (s *Store) AppendRoutingReflection(ctx context.Context, id string, reflection map[string]any) error {
	data, err := json.Marshal(reflection)
	if err != nil {
		return cogerr.Validationf("postgres.AppendRoutingReflection", "marshal: %w", err)
	}
	_, err = s.pool.Exec(ctx, `UPDATE routing_decisions SET reflection=$2 WHERE id=$1`, id, data)
	if err != nil {
		return cogerr.Transientf("postgres.AppendRoutingReflection", "update: %w", err)
	}
	return nil
}

// RecentRoutingDecisions returns the last n decisions, newest first, the
// sample the Routing Stability Regulator replays before committing a
// weight change.
func (s *Store) RecentRoutingDecisions(ctx context.Context, n int) ([]types.RoutingDecision, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, exchange_id, selected_mode, router_confidence, scores, tiebreaker_used,
  margin, effective_margin, signal_snapshot, weight_snapshot, reflection, created_at
FROM routing_decisions ORDER BY created_at DESC LIMIT $1`, n)
	if err != nil {
		return nil, cogerr.Transientf("postgres.RecentRoutingDecisions", "query: %w", err)
	}
	defer rows.Close()

	var out []types.RoutingDecision
	for rows.Next() {
		var d types.RoutingDecision
		var scores, signals, weights, reflection []byte
		if err := rows.Scan(&d.ID, &d.Topic, &d.ExchangeID, &d.SelectedMode, &d.RouterConfidence, &scores,
			&d.TiebreakerUsed, &d.Margin, &d.EffectiveMargin, &signals, &weights, &reflection, &d.CreatedAt); err != nil {
			return nil, cogerr.Transientf("postgres.RecentRoutingDecisions", "scan: %w", err)
		}
		json.Unmarshal(scores, &d.Scores)
		json.Unmarshal(signals, &d.SignalSnapshot)
		json.Unmarshal(weights, &d.WeightSnapshot)
		if len(reflection) > 0 {
			json.Unmarshal(reflection, &d.Reflection)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LastRoutingDecisionForTopic returns the most recent decision made for a
// topic, the prevMode input the router's CLARIFY-suppression rule reads. Nil
// with no error means the topic has no prior decision (first exchange).
func (s *Store) LastRoutingDecisionForTopic(ctx context.Context, topic string) (*types.RoutingDecision, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, exchange_id, selected_mode, router_confidence, scores, tiebreaker_used,
  margin, effective_margin, signal_snapshot, weight_snapshot, reflection, created_at
FROM routing_decisions WHERE topic=$1 ORDER BY created_at DESC LIMIT 1`, topic)
	if err != nil {
		return nil, cogerr.Transientf("postgres.LastRoutingDecisionForTopic", "query: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var d types.RoutingDecision
	var scores, signals, weights, reflection []byte
	if err := rows.Scan(&d.ID, &d.Topic, &d.ExchangeID, &d.SelectedMode, &d.RouterConfidence, &scores,
		&d.TiebreakerUsed, &d.Margin, &d.EffectiveMargin, &signals, &weights, &reflection, &d.CreatedAt); err != nil {
		return nil, cogerr.Transientf("postgres.LastRoutingDecisionForTopic", "scan: %w", err)
	}
	json.Unmarshal(scores, &d.Scores)
	json.Unmarshal(signals, &d.SignalSnapshot)
	json.Unmarshal(weights, &d.WeightSnapshot)
	if len(reflection) > 0 {
		json.Unmarshal(reflection, &d.Reflection)
	}
	return &d, nil
}

// UnreflectedRoutingDecisions returns decisions from the last 24h that have
// no reflection yet, the Routing Reflection worker's idle-time input.
func (s *Store) UnreflectedRoutingDecisions(ctx context.Context, limit int) ([]types.RoutingDecision, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, exchange_id, selected_mode, router_confidence, scores, tiebreaker_used,
  margin, effective_margin, signal_snapshot, weight_snapshot, reflection, created_at
FROM routing_decisions
WHERE reflection IS NULL AND created_at > now() - interval '24 hours'
ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.UnreflectedRoutingDecisions", "query: %w", err)
	}
	defer rows.Close()

	var out []types.RoutingDecision
	for rows.Next() {
		var d types.RoutingDecision
		var scores, signals, weights, reflection []byte
		if err := rows.Scan(&d.ID, &d.Topic, &d.ExchangeID, &d.SelectedMode, &d.RouterConfidence, &scores,
			&d.TiebreakerUsed, &d.Margin, &d.EffectiveMargin, &signals, &weights, &reflection, &d.CreatedAt); err != nil {
			return nil, cogerr.Transientf("postgres.UnreflectedRoutingDecisions", "scan: %w", err)
		}
		json.Unmarshal(scores, &d.Scores)
		json.Unmarshal(signals, &d.SignalSnapshot)
		json.Unmarshal(weights, &d.WeightSnapshot)
		if len(reflection) > 0 {
			json.Unmarshal(reflection, &d.Reflection)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// InsertPersistentTask creates a new multi-session ACT task.
func (s *Store) InsertPersistentTask(ctx context.Context, t *types.PersistentTask) error {
	progress, _ := json.Marshal(t.Progress)
	_, err := s.pool.Exec(ctx, `
INSERT INTO persistent_tasks(id, account_id, thread_id, goal, scope, status, priority, progress,
  iterations_used, max_iterations, fatigue_budget, created_at, expires_at, next_run_after, last_summary, coverage_estimate)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		t.ID, t.AccountID, t.ThreadID, t.Goal, t.Scope, t.Status, t.Priority, progress,
		t.IterationsUsed, t.MaxIterations, t.FatigueBudget, t.CreatedAt, t.ExpiresAt, t.NextRunAfter, t.LastSummary, t.CoverageEstimate)
	if err != nil {
		return cogerr.Transientf("postgres.InsertPersistentTask", "insert: %w", err)
	}
	return nil
}

// UpdatePersistentTask persists a task's advanced state after an ACT
// iteration or a status transition.
func (s *Store) UpdatePersistentTask(ctx context.Context, t *types.PersistentTask) error {
	progress, _ := json.Marshal(t.Progress)
	_, err := s.pool.Exec(ctx, `
UPDATE persistent_tasks SET status=$2, priority=$3, progress=$4, iterations_used=$5, next_run_after=$6,
  last_summary=$7, coverage_estimate=$8 WHERE id=$1`,
		t.ID, t.Status, t.Priority, progress, t.IterationsUsed, t.NextRunAfter, t.LastSummary, t.CoverageEstimate)
	if err != nil {
		return cogerr.Transientf("postgres.UpdatePersistentTask", "update: %w", err)
	}
	return nil
}

// ThreadHasActiveTask reports whether a thread has a persistent task still
// in flight (accepted or in progress), the "has_pending_task" router signal.
func (s *Store) ThreadHasActiveTask(ctx context.Context, threadID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM persistent_tasks WHERE thread_id=$1 AND status IN ($2,$3))`,
		threadID, types.TaskAccepted, types.TaskInProgress).Scan(&exists)
	if err != nil {
		return false, cogerr.Transientf("postgres.ThreadHasActiveTask", "query: %w", err)
	}
	return exists, nil
}

// DueTasks returns tasks ready for the scheduler to advance: IN_PROGRESS or
// ACCEPTED, with NextRunAfter in the past.
func (s *Store) DueTasks(ctx context.Context, limit int) ([]types.PersistentTask, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, account_id, thread_id, goal, scope, status, priority, progress, iterations_used, max_iterations,
  fatigue_budget, created_at, expires_at, next_run_after, last_summary, coverage_estimate
FROM persistent_tasks
WHERE status IN ($1,$2) AND (next_run_after IS NULL OR next_run_after <= now())
ORDER BY priority DESC, created_at ASC LIMIT $3`, types.TaskAccepted, types.TaskInProgress, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.DueTasks", "query: %w", err)
	}
	defer rows.Close()

	var out []types.PersistentTask
	for rows.Next() {
		var t types.PersistentTask
		var progress []byte
		if err := rows.Scan(&t.ID, &t.AccountID, &t.ThreadID, &t.Goal, &t.Scope, &t.Status, &t.Priority, &progress,
			&t.IterationsUsed, &t.MaxIterations, &t.FatigueBudget, &t.CreatedAt, &t.ExpiresAt, &t.NextRunAfter,
			&t.LastSummary, &t.CoverageEstimate); err != nil {
			return nil, cogerr.Transientf("postgres.DueTasks", "scan: %w", err)
		}
		json.Unmarshal(progress, &t.Progress)
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertScheduledItem creates a reminder or re-entrant prompt.
func (s *Store) InsertScheduledItem(ctx context.Context, it *types.ScheduledItem) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO scheduled_items(id, thread_id, item_type, message, due_at, recurrence, window_start, window_end,
  group_id, status, last_fired_at, failure_count)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		it.ID, it.ThreadID, it.Type, it.Message, it.DueAt, it.Recurrence, it.WindowStart, it.WindowEnd,
		it.GroupID, it.Status, it.LastFiredAt, it.FailureCount)
	if err != nil {
		return cogerr.Transientf("postgres.InsertScheduledItem", "insert: %w", err)
	}
	return nil
}

// DueScheduledItems returns pending items whose DueAt has passed.
func (s *Store) DueScheduledItems(ctx context.Context, limit int) ([]types.ScheduledItem, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, thread_id, item_type, message, due_at, recurrence, window_start, window_end, group_id, status,
  last_fired_at, failure_count
FROM scheduled_items WHERE status=$1 AND due_at <= now() ORDER BY due_at ASC LIMIT $2`, types.ScheduledPending, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.DueScheduledItems", "query: %w", err)
	}
	defer rows.Close()

	var out []types.ScheduledItem
	for rows.Next() {
		var it types.ScheduledItem
		if err := rows.Scan(&it.ID, &it.ThreadID, &it.Type, &it.Message, &it.DueAt, &it.Recurrence,
			&it.WindowStart, &it.WindowEnd, &it.GroupID, &it.Status, &it.LastFiredAt, &it.FailureCount); err != nil {
			return nil, cogerr.Transientf("postgres.DueScheduledItems", "scan: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// MarkScheduledItemFired stamps LastFiredAt and advances status.
func (s *Store) MarkScheduledItemFired(ctx context.Context, id string, status types.ScheduledStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_items SET status=$2, last_fired_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return cogerr.Transientf("postgres.MarkScheduledItemFired", "update: %w", err)
	}
	return nil
}

// IncrementScheduledFailure bumps the failure counter after a delivery
// attempt errors.
func (s *Store) IncrementScheduledFailure(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE scheduled_items SET failure_count=failure_count+1 WHERE id=$1`, id)
	if err != nil {
		return cogerr.Transientf("postgres.IncrementScheduledFailure", "update: %w", err)
	}
	return nil
}
