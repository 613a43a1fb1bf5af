package digest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/act"
	cogctx "github.com/cogloop/core/internal/context"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/types"
)

// maxGenTokens bounds a direct (non-ACT) generation call.
const maxGenTokens = 1024

// generate produces the assistant-facing text for a cycle once a mode has
// been selected. ACT hands off to the bounded planner/dispatch loop; every
// other mode is a single direct completion call grounded in the assembled
// context snapshot.
func (w *Worker) generate(ctx context.Context, thread *types.Thread, message string, mode types.Mode, snapshot *cogctx.Snapshot) (string, error) {
	contextText := renderSnapshot(snapshot)

	if mode == types.ModeAct {
		loop := w.loopFactory(thread.ID, message, contextText)
		outcome, err := loop.Run(ctx, thread.UserID)
		if err != nil {
			return "", err
		}
		if outcome.Response != "" {
			return outcome.Response, nil
		}
		if outcome.EscalateToTask {
			if err := w.escalateToTask(ctx, thread, message, outcome); err != nil {
				logging.For("worker.digest").Error().Err(err).Str("thread", thread.ID).Msg("persistent_task:create failed")
			}
		}
		return "Still working on that — I'll follow up once it's done.", nil
	}

	req := llm.Request{
		System:    systemPromptFor(mode, contextText),
		Messages:  []llm.Message{{Role: "user", Content: message}},
		MaxTokens: maxGenTokens,
	}
	resp, err := w.planner.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// escalateToTask is the automatic persistent_task:create action (spec.md
// §4.6 step 5): a deep request that terminated with nothing produced gets
// scheduled as multi-session ACT work instead of silently dropped.
func (w *Worker) escalateToTask(ctx context.Context, thread *types.Thread, message string, outcome act.Outcome) error {
	now := time.Now().UTC()
	task := &types.PersistentTask{
		ID:            uuid.NewString(),
		AccountID:     thread.UserID,
		ThreadID:      thread.ID,
		Goal:          message,
		Scope:         act.SummarizeHistory(outcome.History),
		Status:        types.TaskAccepted,
		Progress:      map[string]any{},
		MaxIterations: act.PersistentMaxIterations,
		FatigueBudget: act.PersistentFatigueBudget,
		CreatedAt:     now,
		ExpiresAt:     now.Add(act.TaskExpiry),
		NextRunAfter:  now,
	}
	return w.store.InsertPersistentTask(ctx, task)
}

func renderSnapshot(snap *cogctx.Snapshot) string {
	if snap == nil || len(snap.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, c := range snap.Candidates {
		b.WriteString("- [")
		b.WriteString(c.Layer)
		b.WriteString("] ")
		b.WriteString(c.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func systemPromptFor(mode types.Mode, contextText string) string {
	var role string
	switch mode {
	case types.ModeClarify:
		role = "Ask exactly one focused clarifying question before proceeding. Do not answer yet."
	case types.ModeAcknowledge:
		role = "Give a brief, warm acknowledgement. No question, no new information, one or two sentences."
	default:
		role = "Respond helpfully and directly, grounded in the context below."
	}
	if contextText == "" {
		return role
	}
	return role + "\n\nContext:\n" + contextText
}
