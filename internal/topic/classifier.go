// Package topic assigns an incoming message to a topic and detects when the
// conversation has drifted far enough to warrant starting a new one
// (spec.md §4.4). Grounded on the teacher's internal/filter package (rolling
// embedding similarity gating a topic boundary) generalized from its single
// cosine-threshold gate into the spec's NEWMA + transient-surprise + leaky
// accumulator composite.
package topic

import (
	"context"

	"github.com/cogloop/core/internal/numerics"
	"github.com/cogloop/core/internal/types"
)

// SimilarityFloor is the cosine similarity below which Classify treats a
// message as matching no existing topic (IsNew), so the caller starts a new
// topic for it instead of folding it into an existing topic's rolling
// embedding.
const SimilarityFloor = 0.35

// Assignment is the result of classifying one message against existing
// topics.
type Assignment struct {
	TopicID    string
	Similarity float64
	IsNew      bool
}

// TopicLookup is the minimal persistence contract the classifier needs.
type TopicLookup interface {
	RecentTopics(ctx context.Context, threadID string, limit int) ([]types.Topic, error)
}

// Classifier assigns a message embedding to the most similar live topic, or
// signals a new topic is needed.
type Classifier struct {
	lookup TopicLookup
}

func NewClassifier(lookup TopicLookup) *Classifier { return &Classifier{lookup: lookup} }

// Classify returns the best-matching topic for embedding, or IsNew=true if
// no topic exceeds SimilarityFloor (including the cold-start case of zero
// existing topics).
func (c *Classifier) Classify(ctx context.Context, threadID string, embedding []float32) (Assignment, error) {
	topics, err := c.lookup.RecentTopics(ctx, threadID, 8)
	if err != nil {
		return Assignment{}, err
	}
	best := Assignment{IsNew: true}
	for _, t := range topics {
		sim := numerics.Cosine(embedding, t.RollingEmbedding)
		if sim > best.Similarity {
			best = Assignment{TopicID: t.ID, Similarity: sim, IsNew: sim < SimilarityFloor}
		}
	}
	return best, nil
}

// UpdateRollingEmbedding folds a new message embedding into a topic's
// running-mean rolling embedding and re-normalizes to unit length, preserving
// the |rolling_embedding|=1±1e-6 invariant (spec.md §8).
func UpdateRollingEmbedding(t *types.Topic, embedding []float32) {
	t.RollingEmbedding = numerics.RunningMean(t.RollingEmbedding, t.MessageCount, embedding)
	numerics.L2Normalize(t.RollingEmbedding)
	t.MessageCount++
}
