package memory

import (
	"context"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Moments is the user-pinned bookmark layer.
type Moments struct {
	pg *postgres.Store
}

func NewMoments(pg *postgres.Store) *Moments { return &Moments{pg: pg} }

// Pin creates a moment in its initial enriching stage.
func (m *Moments) Pin(ctx context.Context, moment *types.Moment) error {
	moment.Stage = types.MomentEnriching
	if err := m.pg.InsertMoment(ctx, moment); err != nil {
		return cogerr.Transientf("memory.Moments.Pin", "%w", err)
	}
	return nil
}

// Seal marks an enriched moment final, stamping SealedAt.
func (m *Moments) Seal(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := m.pg.AdvanceMomentStage(ctx, id, types.MomentSealed, &now); err != nil {
		return cogerr.Transientf("memory.Moments.Seal", "%w", err)
	}
	return nil
}

// Forget transitions a moment to its terminal forgotten stage.
func (m *Moments) Forget(ctx context.Context, id string) error {
	if err := m.pg.AdvanceMomentStage(ctx, id, types.MomentForgotten, nil); err != nil {
		return cogerr.Transientf("memory.Moments.Forget", "%w", err)
	}
	return nil
}

// ForThread returns a thread's pinned moments, newest first.
func (m *Moments) ForThread(ctx context.Context, threadID string) ([]types.Moment, error) {
	moments, err := m.pg.MomentsByThread(ctx, threadID)
	if err != nil {
		return nil, cogerr.Transientf("memory.Moments.ForThread", "%w", err)
	}
	return moments, nil
}
