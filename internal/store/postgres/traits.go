package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/types"
)

// UpsertUserTrait creates a trait or reinforces an existing one, keyed by
// (UserID, TraitKey).
func (s *Store) UpsertUserTrait(ctx context.Context, t *types.UserTrait) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO user_traits(user_id, trait_key, trait_value, category, confidence, reinforcement_count,
  last_reinforced_at, last_conflict_at, is_literal, source, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (user_id, trait_key) DO UPDATE SET
  trait_value=EXCLUDED.trait_value, confidence=EXCLUDED.confidence,
  reinforcement_count=user_traits.reinforcement_count+1,
  last_reinforced_at=EXCLUDED.last_reinforced_at, last_conflict_at=EXCLUDED.last_conflict_at`,
		t.UserID, t.TraitKey, t.TraitValue, t.Category, t.Confidence, t.ReinforcementCount,
		t.LastReinforcedAt, t.LastConflictAt, t.IsLiteral, t.Source, pgvector.NewVector(t.Embedding))
	if err != nil {
		return cogerr.Transientf("postgres.UpsertUserTrait", "upsert: %w", err)
	}
	return nil
}

// UserTraits returns every trait recorded for a user.
func (s *Store) UserTraits(ctx context.Context, userID string) ([]types.UserTrait, error) {
	rows, err := s.pool.Query(ctx, `
SELECT user_id, trait_key, trait_value, category, confidence, reinforcement_count,
  last_reinforced_at, last_conflict_at, is_literal, source, embedding
FROM user_traits WHERE user_id=$1`, userID)
	if err != nil {
		return nil, cogerr.Transientf("postgres.UserTraits", "query: %w", err)
	}
	defer rows.Close()

	var out []types.UserTrait
	for rows.Next() {
		var t types.UserTrait
		var vec pgvector.Vector
		if err := rows.Scan(&t.UserID, &t.TraitKey, &t.TraitValue, &t.Category, &t.Confidence, &t.ReinforcementCount,
			&t.LastReinforcedAt, &t.LastConflictAt, &t.IsLiteral, &t.Source, &vec); err != nil {
			return nil, cogerr.Transientf("postgres.UserTraits", "scan: %w", err)
		}
		t.Embedding = vec.Slice()
		out = append(out, t)
	}
	return out, rows.Err()
}

// DecayTraitConfidence applies one decay tick to every trait a user holds,
// run periodically by the consolidation worker's decay stage (spec.md §4.8:
// "trait decay (category-specific)"). elapsedHours is the wall-clock gap
// since the last tick; each category's per-hour rate (types.TraitDecayRate)
// is applied against it, so identity traits barely move while behavioral
// ones fade quickly. A trait reinforced inside the last day is left alone —
// decay only erodes traits that have gone quiet.
func (s *Store) DecayTraitConfidence(ctx context.Context, userID string, elapsedHours float64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE user_traits SET confidence = GREATEST(confidence * (1 - $2 * CASE category
    WHEN $3 THEN $6
    WHEN $4 THEN $7
    WHEN $5 THEN $8
    ELSE $9
  END), 0.05)
WHERE user_id=$1 AND last_reinforced_at < now() - interval '1 day'`,
		userID, elapsedHours,
		types.TraitCategoryIdentity, types.TraitCategoryFactual, types.TraitCategoryBehavioral,
		types.TraitDecayRate(types.TraitCategoryIdentity),
		types.TraitDecayRate(types.TraitCategoryFactual),
		types.TraitDecayRate(types.TraitCategoryBehavioral),
		types.TraitDecayRate(types.TraitCategoryPreference))
	if err != nil {
		return 0, cogerr.Transientf("postgres.DecayTraitConfidence", "update: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IdentityVector fetches one dimension's state, seeding the default 0.5
// baseline if none exists yet.
func (s *Store) IdentityVector(ctx context.Context, userID string, dim types.IdentityDimension) (*types.IdentityVector, error) {
	var v types.IdentityVector
	v.Dimension = dim
	err := s.pool.QueryRow(ctx, `
SELECT baseline_weight, current_activation, min_cap, max_cap, plasticity_rate, inertia_rate, drift_today
FROM identity_vectors WHERE user_id=$1 AND dimension=$2`, userID, dim).
		Scan(&v.BaselineWeight, &v.CurrentActivation, &v.MinCap, &v.MaxCap, &v.PlasticityRate, &v.InertiaRate, &v.DriftToday)
	if err == pgx.ErrNoRows {
		return defaultIdentityVector(dim), nil
	}
	if err != nil {
		return nil, cogerr.Transientf("postgres.IdentityVector", "query: %w", err)
	}
	return &v, nil
}

func defaultIdentityVector(dim types.IdentityDimension) *types.IdentityVector {
	return &types.IdentityVector{
		Dimension: dim, BaselineWeight: 0.5, CurrentActivation: 0.5,
		MinCap: 0, MaxCap: 1, PlasticityRate: 0.02, InertiaRate: 0.8,
	}
}

// IdentityVectors returns the full six-dimension profile for a user.
func (s *Store) IdentityVectors(ctx context.Context, userID string) ([]types.IdentityVector, error) {
	dims := []types.IdentityDimension{
		types.DimCuriosity, types.DimAssertiveness, types.DimWarmth,
		types.DimPlayfulness, types.DimSkepticism, types.DimEmotionalIntensity,
	}
	out := make([]types.IdentityVector, 0, len(dims))
	for _, d := range dims {
		v, err := s.IdentityVector(ctx, userID, d)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// UpdateIdentityVector writes back a dimension's state after a bounded
// nudge (spec.md's plasticity/inertia/drift-cap invariant is enforced by
// the caller before this write).
func (s *Store) UpdateIdentityVector(ctx context.Context, userID string, v *types.IdentityVector) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO identity_vectors(user_id, dimension, baseline_weight, current_activation, min_cap, max_cap, plasticity_rate, inertia_rate, drift_today)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id, dimension) DO UPDATE SET
  baseline_weight=EXCLUDED.baseline_weight, current_activation=EXCLUDED.current_activation, drift_today=EXCLUDED.drift_today`,
		userID, v.Dimension, v.BaselineWeight, v.CurrentActivation, v.MinCap, v.MaxCap, v.PlasticityRate, v.InertiaRate, v.DriftToday)
	if err != nil {
		return cogerr.Transientf("postgres.UpdateIdentityVector", "upsert: %w", err)
	}
	return nil
}
