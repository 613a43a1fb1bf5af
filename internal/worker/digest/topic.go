package digest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/topic"
	"github.com/cogloop/core/internal/types"
)

// topicOutcome is what classifyAndUpdateTopic resolves for one message: the
// topic it now belongs to, and whether a boundary fired — a brand new topic
// counts as a fire too, since both mean "start a fresh consolidation unit".
type topicOutcome struct {
	topicID       string
	similarity    float64
	messageCount  int
	boundaryFired bool
}

// classifyAndUpdateTopic assigns the message to a topic (creating one on
// cold start or low similarity), folds the embedding into that topic's
// rolling mean, and runs the thread's boundary detector over the
// similarity score.
func (w *Worker) classifyAndUpdateTopic(ctx context.Context, thread *types.Thread, embedding []float32) (topicOutcome, error) {
	assignment, err := w.classifier.Classify(ctx, thread.ID, embedding)
	if err != nil {
		return topicOutcome{}, err
	}

	now := time.Now().UTC()
	var t *types.Topic
	if assignment.IsNew {
		t = &types.Topic{ID: uuid.NewString(), Name: "untitled", LastUpdated: now}
	} else {
		t, err = w.store.Topic(ctx, assignment.TopicID)
		if err != nil {
			return topicOutcome{}, err
		}
	}

	topic.UpdateRollingEmbedding(t, embedding)
	t.LastUpdated = now
	if err := w.store.UpsertTopic(ctx, thread.ID, t); err != nil {
		return topicOutcome{}, err
	}

	fired := w.boundaries.For(thread.ID).Observe(assignment.Similarity)
	return topicOutcome{
		topicID: t.ID, similarity: assignment.Similarity, messageCount: t.MessageCount,
		boundaryFired: fired || assignment.IsNew,
	}, nil
}
