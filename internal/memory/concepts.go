package memory

import (
	"context"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Concepts is the semantic graph memory layer: named nodes with typed
// relationships and BFS spreading activation for associative recall.
type Concepts struct {
	pg *postgres.Store
}

func NewConcepts(pg *postgres.Store) *Concepts { return &Concepts{pg: pg} }

// Learn creates a concept or reinforces an existing one by name.
func (c *Concepts) Learn(ctx context.Context, userID string, concept *types.Concept) error {
	if err := c.pg.UpsertConcept(ctx, userID, concept); err != nil {
		return cogerr.Transientf("memory.Concepts.Learn", "%w", err)
	}
	return nil
}

// Relate creates or reinforces a directed, typed edge between two concepts.
func (c *Concepts) Relate(ctx context.Context, rel *types.ConceptRelationship) error {
	if err := c.pg.UpsertConceptRelationship(ctx, rel); err != nil {
		return cogerr.Transientf("memory.Concepts.Relate", "%w", err)
	}
	return nil
}

// SeedByQuery finds the k concepts nearest query by embedding, the entry
// points for a spreading-activation pass.
func (c *Concepts) SeedByQuery(ctx context.Context, userID string, query []float32, k int) ([]types.Concept, error) {
	concepts, err := c.pg.SemanticSearchConcepts(ctx, userID, query, k)
	if err != nil {
		return nil, cogerr.Transientf("memory.Concepts.SeedByQuery", "%w", err)
	}
	return concepts, nil
}

// Activate runs BFS spreading activation from the given seed concept IDs
// and reinforces every concept that received nonzero activation, atomically
// with the BFS read (spec.md §8's atomic-read-and-touch requirement).
func (c *Concepts) Activate(ctx context.Context, seedIDs []string) (map[string]float64, error) {
	activation, err := c.pg.SpreadActivationAndReinforce(ctx, seedIDs)
	if err != nil {
		return nil, cogerr.Transientf("memory.Concepts.Activate", "%w", err)
	}
	return activation, nil
}

// ByName looks up a single concept by its exact name.
func (c *Concepts) ByName(ctx context.Context, userID, name string) (*types.Concept, error) {
	concept, err := c.pg.ConceptByName(ctx, userID, name)
	if err != nil {
		return nil, cogerr.Transientf("memory.Concepts.ByName", "%w", err)
	}
	return concept, nil
}

// Decay applies one strength decay tick, weighted per concept by
// 1−decay_resistance, called by the consolidation worker's decay stage.
func (c *Concepts) Decay(ctx context.Context, userID string, rate float64) (int64, error) {
	n, err := c.pg.DecayConceptStrength(ctx, userID, rate)
	if err != nil {
		return 0, cogerr.Transientf("memory.Concepts.Decay", "%w", err)
	}
	return n, nil
}
