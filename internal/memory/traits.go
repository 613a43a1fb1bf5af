package memory

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Traits is the user-preference/identity learning layer.
type Traits struct {
	pg *postgres.Store
}

func NewTraits(pg *postgres.Store) *Traits { return &Traits{pg: pg} }

// Reinforce records a trait observation, flagging a conflict timestamp when
// the caller detects the new value contradicts the stored one.
func (t *Traits) Reinforce(ctx context.Context, trait *types.UserTrait, conflicted bool) error {
	if conflicted {
		now := time.Now().UTC()
		trait.LastConflictAt = &now
	}
	if err := t.pg.UpsertUserTrait(ctx, trait); err != nil {
		return cogerr.Transientf("memory.Traits.Reinforce", "%w", err)
	}
	return nil
}

// ForUser returns every trait recorded for a user.
func (t *Traits) ForUser(ctx context.Context, userID string) ([]types.UserTrait, error) {
	traits, err := t.pg.UserTraits(ctx, userID)
	if err != nil {
		return nil, cogerr.Transientf("memory.Traits.ForUser", "%w", err)
	}
	return traits, nil
}

// Identity returns the full six-dimension personality profile for a user.
func (t *Traits) Identity(ctx context.Context, userID string) ([]types.IdentityVector, error) {
	vecs, err := t.pg.IdentityVectors(ctx, userID)
	if err != nil {
		return nil, cogerr.Transientf("memory.Traits.Identity", "%w", err)
	}
	return vecs, nil
}

// NudgeIdentity applies a bounded activation change to one dimension,
// enforcing the plasticity/inertia/drift-cap invariant (spec.md §3
// IdentityVector) before writing back.
func (t *Traits) NudgeIdentity(ctx context.Context, userID string, dim types.IdentityDimension, delta float64) error {
	v, err := t.pg.IdentityVector(ctx, userID, dim)
	if err != nil {
		return cogerr.Transientf("memory.Traits.NudgeIdentity", "%w", err)
	}
	maxStep := v.PlasticityRate
	if delta > maxStep {
		delta = maxStep
	} else if delta < -maxStep {
		delta = -maxStep
	}
	next := v.CurrentActivation + delta*(1-v.InertiaRate)
	if next < v.MinCap {
		next = v.MinCap
	} else if next > v.MaxCap {
		next = v.MaxCap
	}
	v.CurrentActivation = next

	baselineDrift := delta * 0.1
	if v.DriftToday+baselineDrift > 0.02 {
		baselineDrift = 0.02 - v.DriftToday
	} else if v.DriftToday+baselineDrift < -0.02 {
		baselineDrift = -0.02 - v.DriftToday
	}
	v.BaselineWeight += baselineDrift
	v.DriftToday += baselineDrift

	if err := t.pg.UpdateIdentityVector(ctx, userID, v); err != nil {
		return cogerr.Transientf("memory.Traits.NudgeIdentity", "%w", err)
	}
	return nil
}

// Decay applies one category-weighted confidence decay tick to every trait
// a user holds, called by the consolidation worker's decay stage.
func (t *Traits) Decay(ctx context.Context, userID string, elapsedHours float64) (int64, error) {
	n, err := t.pg.DecayTraitConfidence(ctx, userID, elapsedHours)
	if err != nil {
		return 0, cogerr.Transientf("memory.Traits.Decay", "%w", err)
	}
	return n, nil
}
