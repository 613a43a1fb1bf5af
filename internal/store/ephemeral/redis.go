// Package ephemeral is the Redis-backed tier for everything spec.md marks
// as short-lived: working memory's ring buffer, gists/facts with TTLs, and
// the at-least-once named queues (internal/queue.Backend). The topic
// boundary detectors' state is not kept here (topic.BoundaryManager holds
// it in process memory), nor is the router-weights cache (config.Config
// holds it in process memory).
//
// Grounded on intelligencedev-manifold's redis client setup (go-redis/v9,
// context-scoped calls, key prefixing) generalized to the narrower set of
// operations this module actually needs: list push/pop with a visibility
// lock, capped sorted-set ring buffers, and TTL'd string/hash records.
package ephemeral

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/queue"
)

// Store wraps a redis client with the key-space conventions this module
// uses throughout (prefix "cogloop:").
type Store struct {
	rdb *redis.Client
}

// Open connects to the redis instance at addr (host:port).
func Open(addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, cogerr.Transientf("ephemeral.Open", "ping redis: %w", err)
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func key(parts ...string) string {
	out := "cogloop"
	for _, p := range parts {
		out += ":" + p
	}
	return out
}

// --- queue.Backend -----------------------------------------------------

// queued and inflight lists implement the visibility-timeout pattern: Dequeue
// RPOPLPUSH's an item onto an inflight list and records a per-item deadline;
// a reaper (reapExpired) moves items whose deadline has passed back to the
// head of the queued list for redelivery.
func (s *Store) Enqueue(ctx context.Context, queueName string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", cogerr.Validationf("ephemeral.Enqueue", "marshal payload: %w", err)
	}
	item := queue.Item{ID: queue.NewID(), Payload: raw, EnqueuedAt: time.Now().UTC()}
	data, err := json.Marshal(item)
	if err != nil {
		return "", cogerr.Validationf("ephemeral.Enqueue", "marshal item: %w", err)
	}
	if err := s.rdb.LPush(ctx, key("queue", queueName, "pending"), data).Err(); err != nil {
		return "", cogerr.Transientf("ephemeral.Enqueue", "lpush: %w", err)
	}
	return item.ID, nil
}

func (s *Store) Dequeue(ctx context.Context, queueName string, visibility time.Duration) (*queue.Item, error) {
	pendingKey := key("queue", queueName, "pending")
	inflightKey := key("queue", queueName, "inflight")

	s.reapExpired(ctx, queueName)

	data, err := s.rdb.RPopLPush(ctx, pendingKey, inflightKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, cogerr.Transientf("ephemeral.Dequeue", "rpoplpush: %w", err)
	}
	var item queue.Item
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return nil, cogerr.Validationf("ephemeral.Dequeue", "unmarshal item: %w", err)
	}
	item.Attempts++

	deadlineKey := key("queue", queueName, "deadline", item.ID)
	if err := s.rdb.Set(ctx, deadlineKey, data, visibility).Err(); err != nil {
		return nil, cogerr.Transientf("ephemeral.Dequeue", "set deadline: %w", err)
	}
	// Track the raw inflight payload under its own key too, so Ack/Nack can
	// find and remove the exact list element without a linear LREM scan miss.
	if err := s.rdb.HSet(ctx, key("queue", queueName, "inflight_by_id"), item.ID, data).Err(); err != nil {
		return nil, cogerr.Transientf("ephemeral.Dequeue", "hset inflight: %w", err)
	}
	return &item, nil
}

func (s *Store) Ack(ctx context.Context, queueName, itemID string) error {
	data, err := s.rdb.HGet(ctx, key("queue", queueName, "inflight_by_id"), itemID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return cogerr.Transientf("ephemeral.Ack", "hget: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LRem(ctx, key("queue", queueName, "inflight"), 1, data)
	pipe.HDel(ctx, key("queue", queueName, "inflight_by_id"), itemID)
	pipe.Del(ctx, key("queue", queueName, "deadline", itemID))
	if _, err := pipe.Exec(ctx); err != nil {
		return cogerr.Transientf("ephemeral.Ack", "exec: %w", err)
	}
	return nil
}

func (s *Store) Nack(ctx context.Context, queueName, itemID string) error {
	data, err := s.rdb.HGet(ctx, key("queue", queueName, "inflight_by_id"), itemID).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return cogerr.Transientf("ephemeral.Nack", "hget: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.LRem(ctx, key("queue", queueName, "inflight"), 1, data)
	pipe.HDel(ctx, key("queue", queueName, "inflight_by_id"), itemID)
	pipe.Del(ctx, key("queue", queueName, "deadline", itemID))
	pipe.LPush(ctx, key("queue", queueName, "pending"), data)
	if _, err := pipe.Exec(ctx); err != nil {
		return cogerr.Transientf("ephemeral.Nack", "exec: %w", err)
	}
	return nil
}

// reapExpired moves any inflight item whose per-item deadline key has
// expired back onto the pending list. Redis's own key-expiry notification is
// not assumed to be enabled, so this runs opportunistically on every Dequeue.
func (s *Store) reapExpired(ctx context.Context, queueName string) {
	ids, err := s.rdb.HKeys(ctx, key("queue", queueName, "inflight_by_id")).Result()
	if err != nil {
		return
	}
	for _, id := range ids {
		exists, err := s.rdb.Exists(ctx, key("queue", queueName, "deadline", id)).Result()
		if err != nil || exists == 1 {
			continue
		}
		data, err := s.rdb.HGet(ctx, key("queue", queueName, "inflight_by_id"), id).Result()
		if err != nil {
			continue
		}
		pipe := s.rdb.TxPipeline()
		pipe.LRem(ctx, key("queue", queueName, "inflight"), 1, data)
		pipe.HDel(ctx, key("queue", queueName, "inflight_by_id"), id)
		pipe.LPush(ctx, key("queue", queueName, "pending"), data)
		pipe.Exec(ctx)
	}
}

// --- working memory ring buffer (spec.md §3 WorkingMemory) -------------

// WorkingMemoryCap is the max number of turns retained per thread before the
// oldest entries are trimmed.
const WorkingMemoryCap = 40

// PushWorkingTurn appends turn to the thread's ring buffer, trimming to
// WorkingMemoryCap from the tail.
func (s *Store) PushWorkingTurn(ctx context.Context, threadID string, turn any) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return cogerr.Validationf("ephemeral.PushWorkingTurn", "marshal: %w", err)
	}
	k := key("working", threadID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(ctx, k, data)
	pipe.LTrim(ctx, k, -WorkingMemoryCap, -1)
	pipe.Expire(ctx, k, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return cogerr.Transientf("ephemeral.PushWorkingTurn", "exec: %w", err)
	}
	return nil
}

// WorkingTurns returns up to limit most-recent raw turn payloads, oldest
// first, for the caller to unmarshal into types.Turn.
func (s *Store) WorkingTurns(ctx context.Context, threadID string, limit int) ([][]byte, error) {
	k := key("working", threadID)
	vals, err := s.rdb.LRange(ctx, k, int64(-limit), -1).Result()
	if err != nil {
		return nil, cogerr.Transientf("ephemeral.WorkingTurns", "lrange: %w", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		out[i] = []byte(v)
	}
	return out, nil
}

// --- TTL'd gists / facts -------------------------------------------------

// PutTTL stores value JSON-encoded under key with the given TTL.
func (s *Store) PutTTL(ctx context.Context, namespace, id string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return cogerr.Validationf("ephemeral.PutTTL", "marshal: %w", err)
	}
	if err := s.rdb.Set(ctx, key(namespace, id), data, ttl).Err(); err != nil {
		return cogerr.Transientf("ephemeral.PutTTL", "set: %w", err)
	}
	return nil
}

// GetTTL fetches the raw value for key, returning found=false on miss or
// expiry.
func (s *Store) GetTTL(ctx context.Context, namespace, id string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key(namespace, id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cogerr.Transientf("ephemeral.GetTTL", "get: %w", err)
	}
	return data, true, nil
}

// ScanNamespace returns every id currently live under namespace, for workers
// that need to sweep all active gists/facts.
func (s *Store) ScanNamespace(ctx context.Context, namespace string) ([]string, error) {
	prefix := key(namespace, "")
	var ids []string
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, cogerr.Transientf("ephemeral.ScanNamespace", "scan: %w", err)
	}
	return ids, nil
}

// DeleteTTL removes a namespaced key early (e.g. a resolved gist).
func (s *Store) DeleteTTL(ctx context.Context, namespace, id string) error {
	if err := s.rdb.Del(ctx, key(namespace, id)).Err(); err != nil {
		return cogerr.Transientf("ephemeral.DeleteTTL", "del: %w", err)
	}
	return nil
}

// IncrAttempt is a small helper for a consumer that wants to track attempts
// outside the Item itself (e.g. a poison-queue threshold check). Nothing in
// this module calls it.
func (s *Store) IncrAttempt(ctx context.Context, scope, id string) (int64, error) {
	n, err := s.rdb.Incr(ctx, key("attempts", scope, id)).Result()
	if err != nil {
		return 0, cogerr.Transientf("ephemeral.IncrAttempt", "incr: %w", err)
	}
	s.rdb.Expire(ctx, key("attempts", scope, id), time.Hour)
	return n, nil
}
