package memory

import (
	"context"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Episodes is the narrative-consolidation memory layer: session summaries
// with salience-weighted retrieval, backed by postgres+pgvector.
type Episodes struct {
	pg *postgres.Store
}

func NewEpisodes(pg *postgres.Store) *Episodes { return &Episodes{pg: pg} }

// Record persists a freshly consolidated episode.
func (e *Episodes) Record(ctx context.Context, userID, threadID string, ep *types.Episode) error {
	e.fillDefaults(ep)
	if err := e.pg.InsertEpisode(ctx, userID, threadID, ep); err != nil {
		return cogerr.Transientf("memory.Episodes.Record", "%w", err)
	}
	return nil
}

// RecordWithOutbox persists a freshly consolidated episode and its
// semantic-queue handoff atomically in one transaction (spec.md §5), so a
// crash between the episode write and the semantic enqueue cannot strand
// the episode with no concept extraction. Returns false when RootCycleID
// already produced an episode (natural-key dedup, spec.md §8) — the
// caller's redelivered job is then a no-op rather than a duplicate insert.
func (e *Episodes) RecordWithOutbox(ctx context.Context, userID, threadID string, ep *types.Episode, outbox *types.EpisodeOutboxEntry) (bool, error) {
	e.fillDefaults(ep)
	inserted, err := e.pg.InsertEpisodeWithOutbox(ctx, userID, threadID, ep, outbox)
	if err != nil {
		return false, cogerr.Transientf("memory.Episodes.RecordWithOutbox", "%w", err)
	}
	return inserted, nil
}

func (e *Episodes) fillDefaults(ep *types.Episode) {
	if ep.SalienceFactors != (types.SalienceFactors{}) {
		ep.Salience = ep.SalienceFactors.Salience(types.DefaultSalienceWeights)
	}
	if ep.Freshness == 0 {
		ep.Freshness = 1.0
	}
}

// Recall returns the k episodes most relevant to query, ranked by cosine
// similarity of their embedding only (no query text available), and
// atomically bumps access_count/last_accessed_at on every returned episode
// in the same statement as the read (spec.md §8).
func (e *Episodes) Recall(ctx context.Context, userID string, query []float32, k int) ([]types.Episode, error) {
	eps, err := e.pg.SemanticSearchEpisodes(ctx, userID, query, k)
	if err != nil {
		return nil, cogerr.Transientf("memory.Episodes.Recall", "%w", err)
	}
	return eps, nil
}

// HybridRecall returns the k episodes most relevant to (queryEmbedding,
// queryText) under the blended cosine+text-rank score (spec.md §4.2), and
// atomically bumps access_count/last_accessed_at on every returned episode
// in the same statement as the read.
func (e *Episodes) HybridRecall(ctx context.Context, userID string, queryEmbedding []float32, queryText string, k int) ([]postgres.EpisodeHit, error) {
	hits, err := e.pg.HybridSearchEpisodes(ctx, userID, queryEmbedding, queryText, k)
	if err != nil {
		return nil, cogerr.Transientf("memory.Episodes.HybridRecall", "%w", err)
	}
	return hits, nil
}

// Recent returns the n most recently created episodes.
func (e *Episodes) Recent(ctx context.Context, userID string, n int) ([]types.Episode, error) {
	eps, err := e.pg.RecentEpisodes(ctx, userID, n)
	if err != nil {
		return nil, cogerr.Transientf("memory.Episodes.Recent", "%w", err)
	}
	return eps, nil
}

// DecayFreshness applies the periodic exponential freshness decay, called
// by the consolidation worker's decay stage.
func (e *Episodes) DecayFreshness(ctx context.Context, userID string, rate float64) (int64, error) {
	n, err := e.pg.DecayFreshness(ctx, userID, rate)
	if err != nil {
		return 0, cogerr.Transientf("memory.Episodes.DecayFreshness", "%w", err)
	}
	return n, nil
}

// DecaySalience applies the slower, access-independent salience decay,
// called by the consolidation worker's decay stage.
func (e *Episodes) DecaySalience(ctx context.Context, userID string, rate float64) (int64, error) {
	n, err := e.pg.DecaySalience(ctx, userID, rate)
	if err != nil {
		return 0, cogerr.Transientf("memory.Episodes.DecaySalience", "%w", err)
	}
	return n, nil
}
