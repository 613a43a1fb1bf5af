// Package queue implements named, at-least-once FIFO queues (spec.md §4.1,
// §9): consumers ack by removing an item within a bounded visibility
// window; an unacknowledged item reappears for redelivery. Queue names are
// the fixed set from spec.md §6: prompt, memory_chunker, episodic,
// semantic, reflection, persistent_task.
//
// Grounded on the teacher's internal/focus/queue.go (priority ordering,
// notify channel, trim-on-overflow) generalized from a single in-process
// priority queue into a Backend interface. Its only implementation is the
// Redis-backed one in internal/store/ephemeral; there is no in-memory
// Backend.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/cogerr"
)

// Well-known queue names (spec.md §6).
const (
	Prompt         = "prompt"
	MemoryChunker  = "memory_chunker"
	Episodic       = "episodic"
	Semantic       = "semantic"
	Reflection     = "reflection"
	PersistentTask = "persistent_task"
)

// Item is an enqueued unit of work. Payload is opaque to the queue itself;
// callers json-encode their own domain type into it.
type Item struct {
	ID          string          `json:"id"`
	Payload     json.RawMessage `json:"payload"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	Attempts    int             `json:"attempts"`
}

// Backend is the narrow contract a concrete store must satisfy. Enqueue is
// fire-and-forget FIFO; Dequeue hands an item out with a visibility timeout
// during which no other consumer will receive it; Ack permanently removes
// it; Nack (or a timeout) makes it visible again immediately.
type Backend interface {
	Enqueue(ctx context.Context, queueName string, payload any) (string, error)
	Dequeue(ctx context.Context, queueName string, visibility time.Duration) (*Item, error)
	Ack(ctx context.Context, queueName, itemID string) error
	Nack(ctx context.Context, queueName, itemID string) error
}

// Queue is a typed handle on one named queue.
type Queue struct {
	name    string
	backend Backend
}

// New returns a handle bound to name on backend.
func New(name string, backend Backend) *Queue {
	return &Queue{name: name, backend: backend}
}

// Enqueue serializes payload and appends it to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, payload any) (string, error) {
	id, err := q.backend.Enqueue(ctx, q.name, payload)
	if err != nil {
		return "", cogerr.Transientf("queue.Enqueue", "%s: %w", q.name, err)
	}
	return id, nil
}

// Dequeue pops the head item, making it invisible to other consumers for
// visibility. Returns nil, nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, visibility time.Duration) (*Item, error) {
	item, err := q.backend.Dequeue(ctx, q.name, visibility)
	if err != nil {
		return nil, cogerr.Transientf("queue.Dequeue", "%s: %w", q.name, err)
	}
	return item, nil
}

// Ack permanently removes itemID after successful processing.
func (q *Queue) Ack(ctx context.Context, itemID string) error {
	if err := q.backend.Ack(ctx, q.name, itemID); err != nil {
		return cogerr.Transientf("queue.Ack", "%s/%s: %w", q.name, itemID, err)
	}
	return nil
}

// Nack releases the visibility lock early, e.g. after a handled error that
// still warrants redelivery.
func (q *Queue) Nack(ctx context.Context, itemID string) error {
	if err := q.backend.Nack(ctx, q.name, itemID); err != nil {
		return cogerr.Transientf("queue.Nack", "%s/%s: %w", q.name, itemID, err)
	}
	return nil
}

// Decode unmarshals item's payload into dst.
func Decode[T any](item *Item, dst *T) error {
	if err := json.Unmarshal(item.Payload, dst); err != nil {
		return cogerr.Validationf("queue.Decode", "unmarshal payload: %w", err)
	}
	return nil
}

// NewID generates a queue item ID.
func NewID() string { return uuid.NewString() }
