package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// UpsertTopic creates or updates a topic's rolling embedding state.
func (s *Store) UpsertTopic(ctx context.Context, threadID string, t *types.Topic) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO topics(id, thread_id, name, message_count, rolling_embedding, avg_salience, last_updated)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  name=EXCLUDED.name, message_count=EXCLUDED.message_count,
  rolling_embedding=EXCLUDED.rolling_embedding, avg_salience=EXCLUDED.avg_salience, last_updated=EXCLUDED.last_updated`,
		t.ID, threadID, t.Name, t.MessageCount, pgvector.NewVector(t.RollingEmbedding), t.AvgSalience, t.LastUpdated)
	if err != nil {
		return cogerr.Transientf("postgres.UpsertTopic", "upsert: %w", err)
	}
	return nil
}

// Topic fetches a topic by ID.
func (s *Store) Topic(ctx context.Context, id string) (*types.Topic, error) {
	var t types.Topic
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
SELECT id, name, message_count, rolling_embedding, avg_salience, last_updated FROM topics WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.MessageCount, &vec, &t.AvgSalience, &t.LastUpdated)
	if err == pgx.ErrNoRows {
		return nil, cogerr.Validationf("postgres.Topic", "no such topic %s", id)
	}
	if err != nil {
		return nil, cogerr.Transientf("postgres.Topic", "query: %w", err)
	}
	t.RollingEmbedding = vec.Slice()
	return &t, nil
}

// RecentTopics returns a thread's most recently updated topics, used by the
// classifier to find the best-matching live topic without scanning the
// whole table.
func (s *Store) RecentTopics(ctx context.Context, threadID string, limit int) ([]types.Topic, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, name, message_count, rolling_embedding, avg_salience, last_updated
FROM topics WHERE thread_id=$1 ORDER BY last_updated DESC LIMIT $2`, threadID, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.RecentTopics", "query: %w", err)
	}
	defer rows.Close()

	var out []types.Topic
	for rows.Next() {
		var t types.Topic
		var vec pgvector.Vector
		if err := rows.Scan(&t.ID, &t.Name, &t.MessageCount, &vec, &t.AvgSalience, &t.LastUpdated); err != nil {
			return nil, cogerr.Transientf("postgres.RecentTopics", "scan: %w", err)
		}
		t.RollingEmbedding = vec.Slice()
		out = append(out, t)
	}
	return out, rows.Err()
}

// InsertEpisode persists a consolidated episode with its embedding.
// Idempotent on RootCycleID (spec.md §8: "double-enqueue of the same
// MessageCycle id produces exactly one episode") — a second insert racing
// the same root cycle is silently dropped rather than duplicated.
func (s *Store) InsertEpisode(ctx context.Context, userID, threadID string, e *types.Episode) error {
	_, err := s.insertEpisodeTx(ctx, s.pool, userID, threadID, e)
	if err != nil {
		return cogerr.Transientf("postgres.InsertEpisode", "insert: %w", err)
	}
	return nil
}

// querier is the subset of pgxpool.Pool/pgx.Tx insertEpisodeTx needs, so it
// can run either standalone or as part of InsertEpisodeWithOutbox's
// transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) insertEpisodeTx(ctx context.Context, q querier, userID, threadID string, e *types.Episode) (bool, error) {
	intent, _ := json.Marshal(e.Intent)
	epctx, _ := json.Marshal(e.Context)
	emotion, _ := json.Marshal(e.Emotion)
	openLoops, _ := json.Marshal(e.OpenLoops)
	salienceFactors, _ := json.Marshal(e.SalienceFactors)

	tag, err := q.Exec(ctx, `
INSERT INTO episodes(id, user_id, thread_id, topic, gist, intent, context, action, emotion, outcome, open_loops,
  salience_factors, salience, freshness, embedding, access_count, created_at, last_accessed_at, root_cycle_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (root_cycle_id) WHERE root_cycle_id IS NOT NULL DO NOTHING`,
		e.ID, userID, threadID, e.Topic, e.Gist, intent, epctx, e.Action, emotion, e.Outcome, openLoops,
		salienceFactors, e.Salience, e.Freshness, pgvector.NewVector(e.Embedding), e.AccessCount, e.CreatedAt, e.LastAccessedAt,
		nullUUID(e.RootCycleID))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// InsertEpisodeWithOutbox inserts the episode and its semantic-queue
// handoff entry in one transaction (spec.md §5): the episode lives in
// Postgres and the semantic queue lives in the Redis-backed ephemeral
// store, so no single transaction can span both directly — this writes
// the intent to hand off durably alongside the episode, and a relay drains
// episode_outbox into the semantic queue afterward. Returns false without
// writing an outbox row when the episode was a root-cycle-id duplicate, so
// a redelivered job doesn't re-trigger semantic extraction either.
func (s *Store) InsertEpisodeWithOutbox(ctx context.Context, userID, threadID string, e *types.Episode, outbox *types.EpisodeOutboxEntry) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, cogerr.Transientf("postgres.InsertEpisodeWithOutbox", "begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.insertEpisodeTx(ctx, tx, userID, threadID, e)
	if err != nil {
		return false, cogerr.Transientf("postgres.InsertEpisodeWithOutbox", "insert episode: %w", err)
	}
	if !inserted {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
INSERT INTO episode_outbox(id, episode_id, user_id, thread_id, topic, gist, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		outbox.ID, outbox.EpisodeID, outbox.UserID, outbox.ThreadID, outbox.Topic, outbox.Gist, outbox.CreatedAt); err != nil {
		return false, cogerr.Transientf("postgres.InsertEpisodeWithOutbox", "insert outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, cogerr.Transientf("postgres.InsertEpisodeWithOutbox", "commit: %w", err)
	}
	return true, nil
}

// PendingOutboxEntries returns up to limit unprocessed episode_outbox rows,
// oldest first, for the outbox relay to drain.
func (s *Store) PendingOutboxEntries(ctx context.Context, limit int) ([]types.EpisodeOutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, episode_id, user_id, thread_id, topic, gist, created_at
FROM episode_outbox WHERE processed_at IS NULL ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, cogerr.Transientf("postgres.PendingOutboxEntries", "query: %w", err)
	}
	defer rows.Close()

	var out []types.EpisodeOutboxEntry
	for rows.Next() {
		var e types.EpisodeOutboxEntry
		if err := rows.Scan(&e.ID, &e.EpisodeID, &e.UserID, &e.ThreadID, &e.Topic, &e.Gist, &e.CreatedAt); err != nil {
			return nil, cogerr.Transientf("postgres.PendingOutboxEntries", "scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkOutboxProcessed stamps an outbox row processed once the relay has
// durably enqueued its semantic job.
func (s *Store) MarkOutboxProcessed(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE episode_outbox SET processed_at=now() WHERE id=$1`, id)
	if err != nil {
		return cogerr.Transientf("postgres.MarkOutboxProcessed", "update: %w", err)
	}
	return nil
}

// SemanticSearchEpisodes returns the k episodes closest to query by cosine
// distance, filtered to one user, and atomically bumps access_count/
// last_accessed_at on every returned episode in the same statement
// (spec.md §8: "updated atomically with the read transaction"). Grounded
// on the teacher's hybrid trace-retrieval approach (vector similarity
// gated by a threshold before spreading activation runs on the result).
func (s *Store) SemanticSearchEpisodes(ctx context.Context, userID string, query []float32, k int) ([]types.Episode, error) {
	rows, err := s.pool.Query(ctx, `
WITH ranked AS (
  SELECT id, row_number() OVER () AS rn FROM episodes
  WHERE user_id=$1 ORDER BY embedding <=> $2 LIMIT $3
), touched AS (
  UPDATE episodes SET access_count=access_count+1, last_accessed_at=now()
  WHERE id IN (SELECT id FROM ranked)
  RETURNING id, topic, gist, intent, context, action, emotion, outcome, open_loops, salience_factors,
    salience, freshness, embedding, access_count, created_at, last_accessed_at, root_cycle_id
)
SELECT touched.id, touched.topic, touched.gist, touched.intent, touched.context, touched.action, touched.emotion,
  touched.outcome, touched.open_loops, touched.salience_factors, touched.salience, touched.freshness,
  touched.embedding, touched.access_count, touched.created_at, touched.last_accessed_at, touched.root_cycle_id
FROM touched JOIN ranked ON ranked.id = touched.id ORDER BY ranked.rn`, userID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, cogerr.Transientf("postgres.SemanticSearchEpisodes", "query: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

// hybridAlpha weights cosine similarity against normalized text rank in
// HybridSearchEpisodes (spec.md §4.2: score = α·cosine + (1−α)·bm25_normalized).
const hybridAlpha = 0.6

// EpisodeHit pairs a recalled episode with its hybrid relevance score.
type EpisodeHit struct {
	Episode types.Episode
	Score   float64
}

// HybridSearchEpisodes blends cosine similarity of the embedding against
// queryEmbedding with a normalized full-text rank of queryText over the
// episode's gist/outcome, combined as α·cosine + (1−α)·text. Postgres has no
// native BM25; ts_rank_cd over a tsvector generated column is the standard
// full-text-ranking substitute, normalized into [0,1) via the ts_rank_cd
// 32-bitmask option, which maps rank to rank/(rank+1).
// HybridSearchEpisodes searches episodes as SemanticSearchEpisodes's doc
// comment describes, atomically bumping access_count/last_accessed_at on
// every hit in the same statement as the read (spec.md §8).
func (s *Store) HybridSearchEpisodes(ctx context.Context, userID string, queryEmbedding []float32, queryText string, k int) ([]EpisodeHit, error) {
	rows, err := s.pool.Query(ctx, `
WITH ranked AS (
  SELECT id, row_number() OVER () AS rn,
    (1 - (embedding <=> $2)) AS cosine_sim,
    ts_rank_cd(search_vector, websearch_to_tsquery('english', $3), 32) AS text_rank
  FROM episodes
  WHERE user_id=$1
  ORDER BY ($4 * (1 - (embedding <=> $2)) + (1-$4) * ts_rank_cd(search_vector, websearch_to_tsquery('english', $3), 32)) DESC
  LIMIT $5
), touched AS (
  UPDATE episodes SET access_count=access_count+1, last_accessed_at=now()
  WHERE id IN (SELECT id FROM ranked)
  RETURNING id, topic, gist, intent, context, action, emotion, outcome, open_loops, salience_factors,
    salience, freshness, embedding, access_count, created_at, last_accessed_at, root_cycle_id
)
SELECT touched.id, touched.topic, touched.gist, touched.intent, touched.context, touched.action, touched.emotion,
  touched.outcome, touched.open_loops, touched.salience_factors, touched.salience, touched.freshness,
  touched.embedding, touched.access_count, touched.created_at, touched.last_accessed_at, touched.root_cycle_id,
  ranked.cosine_sim, ranked.text_rank
FROM touched JOIN ranked ON ranked.id = touched.id ORDER BY ranked.rn`,
		userID, pgvector.NewVector(queryEmbedding), queryText, hybridAlpha, k)
	if err != nil {
		return nil, cogerr.Transientf("postgres.HybridSearchEpisodes", "query: %w", err)
	}
	defer rows.Close()

	var out []EpisodeHit
	for rows.Next() {
		var e types.Episode
		var intent, epctx, emotion, openLoops, salienceFactors []byte
		var vec pgvector.Vector
		var rootCycleID *string
		var cosine, textRank float64
		if err := rows.Scan(&e.ID, &e.Topic, &e.Gist, &intent, &epctx, &e.Action, &emotion, &e.Outcome,
			&openLoops, &salienceFactors, &e.Salience, &e.Freshness, &vec, &e.AccessCount, &e.CreatedAt, &e.LastAccessedAt,
			&rootCycleID, &cosine, &textRank); err != nil {
			return nil, cogerr.Transientf("postgres.HybridSearchEpisodes", "scan: %w", err)
		}
		json.Unmarshal(intent, &e.Intent)
		json.Unmarshal(epctx, &e.Context)
		json.Unmarshal(emotion, &e.Emotion)
		json.Unmarshal(openLoops, &e.OpenLoops)
		json.Unmarshal(salienceFactors, &e.SalienceFactors)
		e.Embedding = vec.Slice()
		if rootCycleID != nil {
			e.RootCycleID = *rootCycleID
		}
		out = append(out, EpisodeHit{Episode: e, Score: hybridAlpha*cosine + (1-hybridAlpha)*textRank})
	}
	return out, rows.Err()
}

// RecentEpisodes returns the most recent n episodes for a user.
func (s *Store) RecentEpisodes(ctx context.Context, userID string, n int) ([]types.Episode, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, gist, intent, context, action, emotion, outcome, open_loops, salience_factors,
  salience, freshness, embedding, access_count, created_at, last_accessed_at, root_cycle_id
FROM episodes WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, n)
	if err != nil {
		return nil, cogerr.Transientf("postgres.RecentEpisodes", "query: %w", err)
	}
	defer rows.Close()
	return scanEpisodes(rows)
}

func scanEpisodes(rows pgx.Rows) ([]types.Episode, error) {
	var out []types.Episode
	for rows.Next() {
		var e types.Episode
		var intent, epctx, emotion, openLoops, salienceFactors []byte
		var vec pgvector.Vector
		var rootCycleID *string
		if err := rows.Scan(&e.ID, &e.Topic, &e.Gist, &intent, &epctx, &e.Action, &emotion, &e.Outcome,
			&openLoops, &salienceFactors, &e.Salience, &e.Freshness, &vec, &e.AccessCount, &e.CreatedAt, &e.LastAccessedAt,
			&rootCycleID); err != nil {
			return nil, cogerr.Transientf("postgres.scanEpisodes", "scan: %w", err)
		}
		if rootCycleID != nil {
			e.RootCycleID = *rootCycleID
		}
		json.Unmarshal(intent, &e.Intent)
		json.Unmarshal(epctx, &e.Context)
		json.Unmarshal(emotion, &e.Emotion)
		json.Unmarshal(openLoops, &e.OpenLoops)
		json.Unmarshal(salienceFactors, &e.SalienceFactors)
		e.Embedding = vec.Slice()
		out = append(out, e)
	}
	return out, rows.Err()
}

// DecayFreshness applies an exponential freshness decay to every episode
// not accessed within the last day, run periodically by the consolidation
// worker's decay stage.
func (s *Store) DecayFreshness(ctx context.Context, userID string, decayRate float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE episodes SET freshness = GREATEST(freshness * (1 - $2), 0.01)
WHERE user_id=$1 AND last_accessed_at < now() - interval '1 day'`, userID, decayRate)
	if err != nil {
		return 0, cogerr.Transientf("postgres.DecayFreshness", "update: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DecaySalience applies the slower, access-independent salience decay
// (spec.md §4.8: λ_s=0.01/h, separate from the freshness decay that resets
// on access). Salience never resets on access — it only falls as episodes
// age past their original encoding.
func (s *Store) DecaySalience(ctx context.Context, userID string, decayRate float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE episodes SET salience = GREATEST(salience * (1 - $2), 0.01)
WHERE user_id=$1`, userID, decayRate)
	if err != nil {
		return 0, cogerr.Transientf("postgres.DecaySalience", "update: %w", err)
	}
	return tag.RowsAffected(), nil
}
