package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// AppendInteractionEvent writes an append-only audit row (spec.md §3
// InteractionEvent). Never updated or deleted.
func (s *Store) AppendInteractionEvent(ctx context.Context, ev *types.InteractionEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return cogerr.Validationf("postgres.AppendInteractionEvent", "marshal payload: %w", err)
	}
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return cogerr.Validationf("postgres.AppendInteractionEvent", "marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO interaction_events(id, event_type, topic, exchange_id, thread_id, session_id, payload, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ev.ID, ev.EventType, ev.Topic, ev.ExchangeID, ev.ThreadID, ev.SessionID, payload, metadata, ev.CreatedAt)
	if err != nil {
		return cogerr.Transientf("postgres.AppendInteractionEvent", "insert: %w", err)
	}
	return nil
}

// InteractionEvents returns the full audit trail for a thread in
// chronological order.
func (s *Store) InteractionEvents(ctx context.Context, threadID string, limit int) ([]types.InteractionEvent, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, event_type, topic, exchange_id, thread_id, session_id, payload, metadata, created_at
FROM interaction_events WHERE thread_id=$1 ORDER BY created_at ASC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.InteractionEvents", "query: %w", err)
	}
	defer rows.Close()

	var out []types.InteractionEvent
	for rows.Next() {
		var ev types.InteractionEvent
		var payload, metadata []byte
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Topic, &ev.ExchangeID, &ev.ThreadID, &ev.SessionID,
			&payload, &metadata, &ev.CreatedAt); err != nil {
			return nil, cogerr.Transientf("postgres.InteractionEvents", "scan: %w", err)
		}
		if err := json.Unmarshal(payload, &ev.Payload); err != nil {
			return nil, cogerr.Validationf("postgres.InteractionEvents", "unmarshal payload: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &ev.Metadata); err != nil {
				return nil, cogerr.Validationf("postgres.InteractionEvents", "unmarshal metadata: %w", err)
			}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpsertThread creates or updates a thread's liveness state.
func (s *Store) UpsertThread(ctx context.Context, t *types.Thread) error {
	history, err := json.Marshal(t.TopicHistory)
	if err != nil {
		return cogerr.Validationf("postgres.UpsertThread", "marshal topic_history: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO threads(id, user_id, channel_id, state, current_topic, topic_history, exchange_count, last_activity, summary, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  state=EXCLUDED.state, current_topic=EXCLUDED.current_topic, topic_history=EXCLUDED.topic_history,
  exchange_count=EXCLUDED.exchange_count, last_activity=EXCLUDED.last_activity, summary=EXCLUDED.summary`,
		t.ID, t.UserID, t.ChannelID, t.State, t.CurrentTopic, history, t.ExchangeCount, t.LastActivity, t.Summary, t.CreatedAt)
	if err != nil {
		return cogerr.Transientf("postgres.UpsertThread", "upsert: %w", err)
	}
	return nil
}

// Thread fetches a thread by ID.
func (s *Store) Thread(ctx context.Context, id string) (*types.Thread, error) {
	var t types.Thread
	var history []byte
	err := s.pool.QueryRow(ctx, `
SELECT id, user_id, channel_id, state, current_topic, topic_history, exchange_count, last_activity, summary, created_at
FROM threads WHERE id=$1`, id).
		Scan(&t.ID, &t.UserID, &t.ChannelID, &t.State, &t.CurrentTopic, &history, &t.ExchangeCount, &t.LastActivity, &t.Summary, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, cogerr.Validationf("postgres.Thread", "no such thread %s", id)
	}
	if err != nil {
		return nil, cogerr.Transientf("postgres.Thread", "query: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &t.TopicHistory); err != nil {
			return nil, cogerr.Validationf("postgres.Thread", "unmarshal topic_history: %w", err)
		}
	}
	return &t, nil
}

// ActiveThreadByChannel finds the open thread for a (user, channel) pair, if
// one exists, for the digest worker to reuse instead of creating a new
// thread for every message.
func (s *Store) ActiveThreadByChannel(ctx context.Context, userID, channelID string) (*types.Thread, error) {
	var id string
	err := s.pool.QueryRow(ctx, `
SELECT id FROM threads WHERE user_id=$1 AND channel_id=$2 AND state=$3 ORDER BY last_activity DESC LIMIT 1`,
		userID, channelID, types.ThreadActive).Scan(&id)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cogerr.Transientf("postgres.ActiveThreadByChannel", "query: %w", err)
	}
	return s.Thread(ctx, id)
}

// ActiveUserIDs lists every distinct user with at least one thread, the
// population the consolidation worker's decay stage sweeps each tick.
func (s *Store) ActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM threads`)
	if err != nil {
		return nil, cogerr.Transientf("postgres.ActiveUserIDs", "query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cogerr.Transientf("postgres.ActiveUserIDs", "scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertMessageCycle creates a new cycle row. Callers compute
// RootCycleID/Depth from the parent before calling this, per the
// MessageCycle invariant. Idempotent on id, so redelivery of the same
// at-least-once queue item (spec.md §4.1) that already created its cycle
// is a no-op rather than a constraint violation.
func (s *Store) InsertMessageCycle(ctx context.Context, c *types.MessageCycle) error {
	intent, err := json.Marshal(c.Intent)
	if err != nil {
		return cogerr.Validationf("postgres.InsertMessageCycle", "marshal intent: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return cogerr.Validationf("postgres.InsertMessageCycle", "marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO message_cycles(id, parent_cycle_id, root_cycle_id, thread_id, topic, cycle_type, status, depth, content, intent, metadata, created_at, completed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (id) DO NOTHING`,
		c.ID, nullUUID(c.ParentCycleID), c.RootCycleID, c.ThreadID, c.Topic, c.Type, c.Status,
		c.Depth, c.Content, intent, metadata, c.CreatedAt, c.CompletedAt)
	if err != nil {
		return cogerr.Transientf("postgres.InsertMessageCycle", "insert: %w", err)
	}
	return nil
}

// UpdateMessageCycleStatus advances a cycle's status (e.g. PENDING ->
// COMPLETED) and, for terminal statuses, stamps CompletedAt.
func (s *Store) UpdateMessageCycleStatus(ctx context.Context, id string, status types.CycleStatus, completedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE message_cycles SET status=$2, completed_at=$3 WHERE id=$1`, id, status, completedAt)
	if err != nil {
		return cogerr.Transientf("postgres.UpdateMessageCycleStatus", "update: %w", err)
	}
	return nil
}

// RecentCycles returns the last n cycles of a thread, oldest first, for
// context assembly's recent-turns window.
func (s *Store) RecentCycles(ctx context.Context, threadID string, n int) ([]types.MessageCycle, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, parent_cycle_id, root_cycle_id, thread_id, topic, cycle_type, status, depth, content, intent, metadata, created_at, completed_at
FROM message_cycles WHERE thread_id=$1 ORDER BY created_at DESC LIMIT $2`, threadID, n)
	if err != nil {
		return nil, cogerr.Transientf("postgres.RecentCycles", "query: %w", err)
	}
	defer rows.Close()

	var out []types.MessageCycle
	for rows.Next() {
		var c types.MessageCycle
		var parent *string
		var intent, metadata []byte
		if err := rows.Scan(&c.ID, &parent, &c.RootCycleID, &c.ThreadID, &c.Topic, &c.Type, &c.Status,
			&c.Depth, &c.Content, &intent, &metadata, &c.CreatedAt, &c.CompletedAt); err != nil {
			return nil, cogerr.Transientf("postgres.RecentCycles", "scan: %w", err)
		}
		if parent != nil {
			c.ParentCycleID = *parent
		}
		if len(intent) > 0 {
			json.Unmarshal(intent, &c.Intent)
		}
		if len(metadata) > 0 {
			json.Unmarshal(metadata, &c.Metadata)
		}
		out = append(out, c)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func nullUUID(id string) any {
	if id == "" {
		return nil
	}
	return id
}
