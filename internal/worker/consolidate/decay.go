package consolidate

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/store/postgres"
)

// Per-hour decay rates (spec.md §4.8).
const (
	episodeFreshnessLambda = 0.05
	episodeSalienceLambda  = 0.01
	conceptStrengthLambda  = 0.03
	decayTick              = 30 * time.Minute
)

// Decay is the decay engine: every tick it ages every active user's
// episodes, concepts, and traits, grounded on the teacher's periodic
// graph-maintenance sweep generalized from a single decay target into the
// three the spec names.
type Decay struct {
	store    *postgres.Store
	episodes *memory.Episodes
	concepts *memory.Concepts
	traits   *memory.Traits
}

func NewDecay(store *postgres.Store, episodes *memory.Episodes, concepts *memory.Concepts, traits *memory.Traits) *Decay {
	return &Decay{store: store, episodes: episodes, concepts: concepts, traits: traits}
}

// Run ticks every decayTick until ctx is cancelled.
func (d *Decay) Run(ctx context.Context) {
	ticker := time.NewTicker(decayTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick runs one decay pass over every user with at least one thread.
func (d *Decay) Tick(ctx context.Context) {
	l := logging.For("worker.consolidate.decay")
	elapsedHours := decayTick.Hours()

	users, err := d.store.ActiveUserIDs(ctx)
	if err != nil {
		l.Error().Err(err).Msg("list active users")
		return
	}

	for _, userID := range users {
		if _, err := d.episodes.DecayFreshness(ctx, userID, episodeFreshnessLambda*elapsedHours); err != nil {
			l.Warn().Err(err).Str("user", userID).Msg("episode freshness decay failed")
		}
		if _, err := d.episodes.DecaySalience(ctx, userID, episodeSalienceLambda*elapsedHours); err != nil {
			l.Warn().Err(err).Str("user", userID).Msg("episode salience decay failed")
		}
		if _, err := d.concepts.Decay(ctx, userID, conceptStrengthLambda*elapsedHours); err != nil {
			l.Warn().Err(err).Str("user", userID).Msg("concept strength decay failed")
		}
		if _, err := d.traits.Decay(ctx, userID, elapsedHours); err != nil {
			l.Warn().Err(err).Str("user", userID).Msg("trait decay failed")
		}
	}
}
