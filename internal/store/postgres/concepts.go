package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// graphQuerier is the subset of pgxpool.Pool/pgx.Tx the BFS and its
// reinforcement pass need, so SpreadActivationAndReinforce can run both
// inside one transaction.
type graphQuerier interface {
	querier
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Spreading activation parameters (spec.md §4.2): BFS over the concept
// graph, decay per level, stop once a frontier's contribution falls below
// epsilon. Grounded on the teacher's internal/graph/activation.go, whose
// SpreadActivation walks outward from seed nodes in iterations with a
// per-iteration decay and a batch neighbor load; this generalizes that
// shape to fixed per-level decay instead of the teacher's lateral-inhibition
// variant.
const (
	ActivationDecayPerLevel = 0.7
	ActivationEpsilon       = 0.05
	ActivationMaxDepth      = 4
)

// UpsertConcept creates a concept or reinforces an existing one by name.
func (s *Store) UpsertConcept(ctx context.Context, userID string, c *types.Concept) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO concepts(id, user_id, concept_name, type, definition, embedding, abstraction_level, strength,
  activation_score, access_count, consolidation_count, confidence, utility_score, decay_resistance,
  first_learned, last_accessed, last_reinforced)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (user_id, concept_name) DO UPDATE SET
  definition=EXCLUDED.definition, embedding=EXCLUDED.embedding,
  strength=LEAST(concepts.strength + 0.1*EXCLUDED.confidence, 10),
  access_count=concepts.access_count+1, consolidation_count=concepts.consolidation_count+1,
  confidence=EXCLUDED.confidence, last_accessed=EXCLUDED.last_accessed, last_reinforced=EXCLUDED.last_reinforced`,
		c.ID, userID, c.Name, c.Type, c.Definition, pgvector.NewVector(c.Embedding), c.AbstractionLevel, c.Strength,
		c.ActivationScore, c.AccessCount, c.ConsolidationCount, c.Confidence, c.UtilityScore, c.DecayResistance,
		c.FirstLearned, c.LastAccessed, c.LastReinforced)
	if err != nil {
		return cogerr.Transientf("postgres.UpsertConcept", "upsert: %w", err)
	}
	return nil
}

// ConceptByName looks up a user's concept by its exact name.
func (s *Store) ConceptByName(ctx context.Context, userID, name string) (*types.Concept, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, concept_name, type, definition, embedding, abstraction_level, strength, activation_score,
  access_count, consolidation_count, confidence, utility_score, decay_resistance, first_learned, last_accessed, last_reinforced
FROM concepts WHERE user_id=$1 AND concept_name=$2`, userID, name)
	return scanConcept(row)
}

func scanConcept(row pgx.Row) (*types.Concept, error) {
	var c types.Concept
	var vec pgvector.Vector
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Definition, &vec, &c.AbstractionLevel, &c.Strength, &c.ActivationScore,
		&c.AccessCount, &c.ConsolidationCount, &c.Confidence, &c.UtilityScore, &c.DecayResistance,
		&c.FirstLearned, &c.LastAccessed, &c.LastReinforced)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cogerr.Transientf("postgres.scanConcept", "scan: %w", err)
	}
	c.Embedding = vec.Slice()
	return &c, nil
}

// SemanticSearchConcepts returns the k concepts closest to query by cosine
// distance, used to pick spreading-activation seed nodes.
func (s *Store) SemanticSearchConcepts(ctx context.Context, userID string, query []float32, k int) ([]types.Concept, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, concept_name, type, definition, embedding, abstraction_level, strength, activation_score,
  access_count, consolidation_count, confidence, utility_score, decay_resistance, first_learned, last_accessed, last_reinforced
FROM concepts WHERE user_id=$1 ORDER BY embedding <=> $2 LIMIT $3`, userID, pgvector.NewVector(query), k)
	if err != nil {
		return nil, cogerr.Transientf("postgres.SemanticSearchConcepts", "query: %w", err)
	}
	defer rows.Close()

	var out []types.Concept
	for rows.Next() {
		var c types.Concept
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Definition, &vec, &c.AbstractionLevel, &c.Strength, &c.ActivationScore,
			&c.AccessCount, &c.ConsolidationCount, &c.Confidence, &c.UtilityScore, &c.DecayResistance,
			&c.FirstLearned, &c.LastAccessed, &c.LastReinforced); err != nil {
			return nil, cogerr.Transientf("postgres.SemanticSearchConcepts", "scan: %w", err)
		}
		c.Embedding = vec.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertConceptRelationship creates or reinforces a directed, typed edge.
func (s *Store) UpsertConceptRelationship(ctx context.Context, r *types.ConceptRelationship) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO concept_relationships(source_concept_id, target_concept_id, relationship_type, strength, bidirectional)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (source_concept_id, target_concept_id, relationship_type) DO UPDATE SET
  strength = LEAST(1.0, concept_relationships.strength + 0.1), bidirectional=EXCLUDED.bidirectional`,
		r.SourceID, r.TargetID, r.Type, r.Strength, r.Bidirectional)
	if err != nil {
		return cogerr.Transientf("postgres.UpsertConceptRelationship", "upsert: %w", err)
	}
	return nil
}

type neighbor struct {
	id       string
	strength float64
}

// neighborsBatch loads the outgoing and, for bidirectional edges, incoming
// neighbors of every id in one query each, mirroring the teacher's
// GetTraceNeighborsBatch two-query batch-load to avoid N+1 lookups per BFS
// level.
func neighborsBatch(ctx context.Context, q graphQuerier, ids []string) (map[string][]neighbor, error) {
	if len(ids) == 0 {
		return map[string][]neighbor{}, nil
	}
	out := make(map[string][]neighbor, len(ids))
	rows, err := q.Query(ctx, `
SELECT source_concept_id, target_concept_id, strength FROM concept_relationships
WHERE source_concept_id = ANY($1)
UNION ALL
SELECT target_concept_id, source_concept_id, strength FROM concept_relationships
WHERE bidirectional AND target_concept_id = ANY($1)`, ids)
	if err != nil {
		return nil, cogerr.Transientf("postgres.neighborsBatch", "query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to string
		var strength float64
		if err := rows.Scan(&from, &to, &strength); err != nil {
			return nil, cogerr.Transientf("postgres.neighborsBatch", "scan: %w", err)
		}
		out[from] = append(out[from], neighbor{id: to, strength: strength})
	}
	return out, rows.Err()
}

// spreadActivation performs BFS spreading activation from seedIDs: each
// level's contribution is the prior level's activation times edge strength
// times ActivationDecayPerLevel, folded additively into already-visited
// nodes. Stops when a frontier's maximum contribution drops below
// ActivationEpsilon or ActivationMaxDepth is reached. Callers always go
// through SpreadActivationAndReinforce so the BFS read and its
// reinforcement write commit atomically.
func spreadActivation(ctx context.Context, q graphQuerier, seedIDs []string) (map[string]float64, error) {
	activation := make(map[string]float64, len(seedIDs))
	frontier := make([]string, 0, len(seedIDs))
	for _, id := range seedIDs {
		activation[id] = 1.0
		frontier = append(frontier, id)
	}

	for depth := 0; depth < ActivationMaxDepth && len(frontier) > 0; depth++ {
		neighbors, err := neighborsBatch(ctx, q, frontier)
		if err != nil {
			return nil, err
		}
		var next []string
		maxContribution := 0.0
		for _, id := range frontier {
			base := activation[id]
			for _, nb := range neighbors[id] {
				contribution := base * nb.strength * ActivationDecayPerLevel
				if contribution > maxContribution {
					maxContribution = contribution
				}
				if contribution < ActivationEpsilon {
					continue
				}
				if contribution > activation[nb.id] {
					activation[nb.id] = contribution
					next = append(next, nb.id)
				}
			}
		}
		if maxContribution < ActivationEpsilon {
			break
		}
		frontier = next
	}
	return activation, nil
}

// SpreadActivationAndReinforce runs the BFS and reinforces every activated
// concept in one transaction, batching the reinforcement into a single
// UPDATE ... FROM unnest() so a crash mid-BFS cannot leave some concepts
// reinforced and others not, and so a reinforcement failure is no longer
// silently dropped (spec.md §8's atomic-read-and-touch requirement,
// generalized from episode recall to concept activation).
func (s *Store) SpreadActivationAndReinforce(ctx context.Context, seedIDs []string) (map[string]float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, cogerr.Transientf("postgres.SpreadActivationAndReinforce", "begin: %w", err)
	}
	defer tx.Rollback(ctx)

	activation, err := spreadActivation(ctx, tx, seedIDs)
	if err != nil {
		return nil, cogerr.Transientf("postgres.SpreadActivationAndReinforce", "spread: %w", err)
	}
	if len(activation) > 0 {
		ids := make([]string, 0, len(activation))
		levels := make([]float64, 0, len(activation))
		for id, level := range activation {
			ids = append(ids, id)
			levels = append(levels, level)
		}
		if _, err := tx.Exec(ctx, `
UPDATE concepts SET access_count=access_count+1, activation_score=u.level, last_accessed=now()
FROM unnest($1::uuid[], $2::double precision[]) AS u(id, level)
WHERE concepts.id = u.id`, ids, levels); err != nil {
			return nil, cogerr.Transientf("postgres.SpreadActivationAndReinforce", "reinforce: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, cogerr.Transientf("postgres.SpreadActivationAndReinforce", "commit: %w", err)
	}
	return activation, nil
}

// DecayConceptStrength applies one decay tick to every concept a user owns,
// run periodically by the consolidation worker's decay stage (spec.md §4.8:
// λ=0.03/h concept-strength decay weighted by 1−decay_resistance). rate is
// the tick's λ·Δt already resolved by the caller, so a concept with
// decay_resistance=1 loses nothing and one with decay_resistance=0.5 loses
// half the nominal amount.
func (s *Store) DecayConceptStrength(ctx context.Context, userID string, rate float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE concepts SET strength = GREATEST(strength * (1 - $2 * (1 - decay_resistance)), 1)
WHERE user_id=$1 AND last_accessed < now() - interval '1 day'`, userID, rate)
	if err != nil {
		return 0, cogerr.Transientf("postgres.DecayConceptStrength", "update: %w", err)
	}
	return tag.RowsAffected(), nil
}
