package digest

import (
	"context"
	"strings"

	cogctx "github.com/cogloop/core/internal/context"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/router"
	"github.com/cogloop/core/internal/types"
)

var scheduleWords = []string{"schedule", "calendar", "appointment", "meeting at", "tomorrow at"}
var deadlineWords = []string{"deadline", "due by", "due on", "before", "by end of"}

// computeSignals gathers everything router.ComputeSignals needs from the
// current cycle's state: working memory for repeat-detection, the live fact
// count, average recall confidence, and tool/task availability.
func (w *Worker) computeSignals(ctx context.Context, thread *types.Thread, message string, outcome topicOutcome, snapshot *cogctx.Snapshot) router.Signals {
	l := logging.For("worker.digest")

	turns, err := w.working.Recent(ctx, thread.ID, 6)
	if err != nil {
		l.Warn().Err(err).Msg("working memory lookup failed, signals degraded")
	}

	facts, err := w.facts.ForThread(ctx, thread.ID)
	if err != nil {
		l.Warn().Err(err).Msg("fact lookup failed, signals degraded")
	}

	gists, err := w.gists.ForThread(ctx, thread.ID)
	if err != nil {
		l.Warn().Err(err).Msg("gist lookup failed, signals degraded")
	}
	memoryConfidence := averageConfidence(gists)

	hasPendingTask := false
	if ok, err := w.store.ThreadHasActiveTask(ctx, thread.ID); err == nil {
		hasPendingTask = ok
	}

	lower := strings.ToLower(message)
	in := router.SignalInput{
		Message:          message,
		TopicSimilarity:  outcome.similarity,
		WorkingTurns:     turns,
		TurnsInTopic:     outcome.messageCount,
		FactCount:        len(facts),
		MemoryConfidence: memoryConfidence,
		HasPendingTask:   hasPendingTask,
		ActionToolsReady: w.tools != nil && w.tools.HasActionCapableTool(),
		SearchToolsReady: w.tools != nil && w.tools.HasSearchLikeTool(),
		MentionsSchedule: containsAny(lower, scheduleWords),
		MentionsDeadline: containsAny(lower, deadlineWords),
	}
	return router.ComputeSignals(in)
}

func averageConfidence(gists []types.Gist) float64 {
	if len(gists) == 0 {
		return 0
	}
	var sum float64
	for _, g := range gists {
		sum += g.Confidence
	}
	return sum / float64(len(gists))
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
