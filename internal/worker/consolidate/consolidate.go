// Package consolidate implements the memory-consolidation chain the digest
// worker's memory_chunker queue entry starts (spec.md §4.8): chunk →
// episodic → semantic, each stage handing its successor a queue job, plus
// the periodic decay engine that ages episodes, concepts, and traits
// between consolidation passes.
//
// Grounded on the teacher's internal/graph consolidation pass (an LLM call
// that distills raw transcript into durable graph nodes, then reinforces
// existing nodes on re-encounter) and internal/focus's working-memory
// rollup, generalized from the teacher's single-stage graph write into this
// package's three queue-chained stages.
package consolidate

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/queue"
)

// Gate reports whether the host has headroom for another consolidation
// pass. worker/supervisor.HostWatcher satisfies this; a stage built with a
// nil gate always proceeds.
type Gate interface {
	Allow() bool
}

// runLoop is the shared dequeue-decode-process-ack skeleton every stage in
// this package follows, mirroring worker/digest's Run loop. When gate is
// non-nil and reports no headroom, the stage idles instead of dequeuing, so
// host load backs off consolidation work rather than piling more onto it.
func runLoop[T any](ctx context.Context, name string, q *queue.Queue, gate Gate, process func(context.Context, T) error) {
	l := logging.For(name)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if gate != nil && !gate.Allow() {
			time.Sleep(time.Second)
			continue
		}
		item, err := q.Dequeue(ctx, 30*time.Second)
		if err != nil {
			l.Warn().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if item == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		var job T
		if err := queue.Decode(item, &job); err != nil {
			l.Error().Err(err).Str("item", item.ID).Msg("malformed job, dropping")
			_ = q.Ack(ctx, item.ID)
			continue
		}
		if err := process(ctx, job); err != nil {
			l.Error().Err(err).Msg("stage failed")
			_ = q.Nack(ctx, item.ID)
			continue
		}
		_ = q.Ack(ctx, item.ID)
	}
}
