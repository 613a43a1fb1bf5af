package consolidate

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// outboxBatch is how many pending episode_outbox rows one relay tick drains.
const outboxBatch = 50

// outboxTick is how often the relay polls for pending rows.
const outboxTick = 2 * time.Second

// OutboxRelay drains episode_outbox rows the episodic worker wrote
// transactionally alongside their episode, publishing each as a
// SemanticJob and marking it processed. This is the other half of the
// transactional-outbox pattern (spec.md §5): Postgres holds the durable
// intent to hand off, Redis holds the actual queue, and this relay is the
// only thing that bridges them, so a crash between the episode insert and
// the semantic enqueue can never lose the causal link — the outbox row
// just waits for the relay to catch up.
type OutboxRelay struct {
	store    *postgres.Store
	semantic *queue.Queue
}

func NewOutboxRelay(store *postgres.Store, semantic *queue.Queue) *OutboxRelay {
	return &OutboxRelay{store: store, semantic: semantic}
}

// Run polls every outboxTick until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(outboxTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Drain(ctx)
		}
	}
}

// Drain publishes every currently-pending outbox row and marks each
// processed once its enqueue succeeds. A publish failure leaves the row
// pending for the next tick rather than losing it.
func (r *OutboxRelay) Drain(ctx context.Context) {
	l := logging.For("worker.consolidate.outbox")
	entries, err := r.store.PendingOutboxEntries(ctx, outboxBatch)
	if err != nil {
		l.Error().Err(err).Msg("list pending outbox entries")
		return
	}
	for _, entry := range entries {
		if err := r.relayOne(ctx, entry); err != nil {
			l.Warn().Err(err).Str("outbox", entry.ID).Msg("relay outbox entry failed, will retry")
		}
	}
}

func (r *OutboxRelay) relayOne(ctx context.Context, entry types.EpisodeOutboxEntry) error {
	if _, err := r.semantic.Enqueue(ctx, SemanticJob{
		UserID: entry.UserID, ThreadID: entry.ThreadID, Topic: entry.Topic, EpisodeID: entry.EpisodeID, Gist: entry.Gist,
	}); err != nil {
		return err
	}
	return r.store.MarkOutboxProcessed(ctx, entry.ID)
}
