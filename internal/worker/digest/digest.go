// Package digest implements the per-message digest worker (spec.md §4.7):
// the supervised pipeline every inbound user message runs through —
// append to the audit log and working memory, classify topic, assemble
// context, route to a mode, generate, stream the result, and enqueue the
// consolidation pipeline's entry point.
//
// Grounded on the teacher's internal/executive/executive_v2.go main
// dispatch loop (dequeue a unit of work, run it through a fixed pipeline of
// stages, publish status as it goes), generalized from the teacher's
// single Claude-session-per-channel model into the four-mode router
// pipeline this module implements.
package digest

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/act"
	"github.com/cogloop/core/internal/bus"
	cogctx "github.com/cogloop/core/internal/context"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/reflex"
	"github.com/cogloop/core/internal/router"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/topic"
	"github.com/cogloop/core/internal/types"
)

// exchangesPerChunk is the default cadence for enqueuing a memory-chunker
// pass (spec.md §4.8: "every 6 exchanges or topic change").
const exchangesPerChunk = 6

// Job is the payload enqueued on the "prompt" queue for one inbound message
// (spec.md §4.7: the worker's input is "a MessageCycle from the pending
// queue").
type Job struct {
	UserID    string           `json:"user_id"`
	ChannelID string           `json:"channel_id"`
	ThreadID  string           `json:"thread_id,omitempty"`
	Message   string           `json:"message"`
	// CycleType distinguishes how this job was spawned; empty defaults to
	// types.CycleUser. The scheduler sets types.CycleScheduled for a fired
	// ScheduledItem with item_type=prompt (spec.md §4.9).
	CycleType types.CycleType `json:"cycle_type,omitempty"`
	// CycleID names the MessageCycle this job is processing. A producer
	// that wants a stable identity across at-least-once redelivery (spec.md
	// §4.1) sets it explicitly; Run falls back to the queue item's own ID
	// otherwise, which is already stable across redelivery of the same
	// item, so natural-key dedup on RootCycleID holds either way.
	CycleID string `json:"cycle_id,omitempty"`
}

// Worker wires every component the digest pipeline touches.
type Worker struct {
	store    *postgres.Store
	prompt   *queue.Queue
	chunker  *queue.Queue
	events   *bus.Bus
	embedder llm.Embedder
	planner  llm.Provider

	working  *memory.Working
	gists    *memory.Gists
	facts    *memory.Facts
	episodes *memory.Episodes
	concepts *memory.Concepts

	assembler  *cogctx.Assembler
	classifier *topic.Classifier
	boundaries *topic.BoundaryManager
	reflexes   *reflex.Engine
	router     *router.Router
	tools      *act.Registry

	loopFactory  func(threadID, goal, contextText string) *act.Loop
	budgetTokens int
}

// Deps bundles every collaborator Worker needs, built once at process
// start and threaded through cmd/cogctl's "worker digest" subcommand.
type Deps struct {
	Store        *postgres.Store
	Prompt       *queue.Queue
	Chunker      *queue.Queue
	Events       *bus.Bus
	Embedder     llm.Embedder
	Planner      llm.Provider
	Working      *memory.Working
	Gists        *memory.Gists
	Facts        *memory.Facts
	Episodes     *memory.Episodes
	Concepts     *memory.Concepts
	Assembler    *cogctx.Assembler
	Classifier   *topic.Classifier
	Boundaries   *topic.BoundaryManager
	Reflexes     *reflex.Engine
	Router       *router.Router
	Tools        *act.Registry
	LoopFactory  func(threadID, goal, contextText string) *act.Loop
	BudgetTokens int
}

func New(d Deps) *Worker {
	budget := d.BudgetTokens
	if budget <= 0 {
		budget = 4000
	}
	return &Worker{
		store: d.Store, prompt: d.Prompt, chunker: d.Chunker, events: d.Events,
		embedder: d.Embedder, planner: d.Planner,
		working: d.Working, gists: d.Gists, facts: d.Facts, episodes: d.Episodes, concepts: d.Concepts,
		assembler: d.Assembler, classifier: d.Classifier, boundaries: d.Boundaries,
		reflexes: d.Reflexes, router: d.Router, tools: d.Tools,
		loopFactory: d.LoopFactory, budgetTokens: budget,
	}
}

// Run dequeues prompt jobs until ctx is cancelled, the long-running form the
// supervisor starts one or more of per process.
func (w *Worker) Run(ctx context.Context) {
	l := logging.For("worker.digest")
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		item, err := w.prompt.Dequeue(ctx, 30*time.Second)
		if err != nil {
			l.Warn().Err(err).Msg("dequeue prompt job")
			time.Sleep(time.Second)
			continue
		}
		if item == nil {
			time.Sleep(200 * time.Millisecond)
			continue
		}
		var job Job
		if err := queue.Decode(item, &job); err != nil {
			l.Error().Err(err).Str("item", item.ID).Msg("malformed prompt job, dropping")
			_ = w.prompt.Ack(ctx, item.ID)
			continue
		}
		if job.CycleID == "" {
			job.CycleID = item.ID
		}
		if err := w.Process(ctx, job); err != nil {
			l.Error().Err(err).Str("thread", job.ThreadID).Msg("digest pipeline failed")
			_ = w.prompt.Nack(ctx, item.ID)
			continue
		}
		_ = w.prompt.Ack(ctx, item.ID)
	}
}

// Process runs one message through the full pipeline: log, working memory,
// topic classification, reflex fast path or full routing, generation,
// streaming, and consolidation handoff.
func (w *Worker) Process(ctx context.Context, job Job) error {
	thread, err := w.resolveThread(ctx, job)
	if err != nil {
		return err
	}
	exchangeID := job.CycleID
	if exchangeID == "" {
		exchangeID = uuid.NewString()
	}
	now := time.Now().UTC()

	cycleType := job.CycleType
	if cycleType == "" {
		cycleType = types.CycleUser
	}
	// The cycle is its own root (no ACT sub-cycle support yet); inserting it
	// idempotently on id means redelivery of the same queue item (sharing
	// exchangeID via Run's item.ID fallback) can never mint a second row.
	if err := w.store.InsertMessageCycle(ctx, &types.MessageCycle{
		ID: exchangeID, RootCycleID: exchangeID, ThreadID: thread.ID, Type: cycleType,
		Status: types.CycleRunning, Content: job.Message, CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := w.store.AppendInteractionEvent(ctx, &types.InteractionEvent{
		ID: uuid.NewString(), EventType: "user_input", ThreadID: thread.ID, ExchangeID: exchangeID,
		Payload: map[string]any{"message": job.Message, "cycle_type": cycleType}, CreatedAt: now,
	}); err != nil {
		return err
	}
	if err := w.working.Append(ctx, thread.ID, types.Turn{Role: "user", Content: job.Message, Timestamp: now}); err != nil {
		return err
	}

	embedding, err := w.embedder.Embed(ctx, job.Message)
	if err != nil {
		logging.For("worker.digest").Warn().Err(err).Msg("embedding failed, continuing without vector signals")
	}

	outcome, err := w.classifyAndUpdateTopic(ctx, thread, embedding)
	if err != nil {
		return err
	}

	w.publish(thread.UserID, bus.Event{Type: "status", Topic: outcome.topicID, ExchangeID: exchangeID, Content: "thinking"})

	if decision, ok := w.reflexes.Match(job.Message); ok {
		return w.respondViaReflex(ctx, thread, outcome.topicID, exchangeID, decision)
	}

	snapshot, err := w.assembler.Assemble(ctx, thread.UserID, thread.ID, outcome.topicID, job.Message, embedding, w.budgetTokens)
	if err != nil {
		return err
	}

	sig := w.computeSignals(ctx, thread, job.Message, outcome, snapshot)
	routing, err := w.decide(ctx, outcome.topicID, exchangeID, sig, thread)
	if err != nil {
		return err
	}
	routing.ID = uuid.NewString()
	routing.CreatedAt = now
	if err := w.store.InsertRoutingDecision(ctx, routing); err != nil {
		return err
	}

	response, err := w.generate(ctx, thread, job.Message, routing.SelectedMode, snapshot)
	if err != nil {
		return err
	}

	w.publish(thread.UserID, bus.Event{Type: "message", Topic: outcome.topicID, ExchangeID: exchangeID, Content: response})
	w.publish(thread.UserID, bus.Event{Type: "done", Topic: outcome.topicID, ExchangeID: exchangeID})

	if err := w.working.Append(ctx, thread.ID, types.Turn{Role: "assistant", Content: response, Timestamp: time.Now().UTC()}); err != nil {
		return err
	}
	if err := w.store.AppendInteractionEvent(ctx, &types.InteractionEvent{
		ID: uuid.NewString(), EventType: "system_response", ThreadID: thread.ID, ExchangeID: exchangeID,
		Payload: map[string]any{"message": response, "mode": routing.SelectedMode}, CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	thread.ExchangeCount++
	thread.CurrentTopic = outcome.topicID
	thread.LastActivity = time.Now().UTC()
	if err := w.store.UpsertThread(ctx, thread); err != nil {
		return err
	}

	if outcome.boundaryFired || thread.ExchangeCount%exchangesPerChunk == 0 {
		if _, err := w.chunker.Enqueue(ctx, map[string]any{
			"thread_id": thread.ID, "topic": outcome.topicID, "root_cycle_id": exchangeID,
		}); err != nil {
			logging.For("worker.digest").Warn().Err(err).Msg("enqueue memory_chunker failed")
		}
	}

	completedAt := time.Now().UTC()
	if err := w.store.UpdateMessageCycleStatus(ctx, exchangeID, types.CycleCompleted, &completedAt); err != nil {
		logging.For("worker.digest").Warn().Err(err).Str("cycle", exchangeID).Msg("mark cycle completed failed")
	}
	return nil
}

func (w *Worker) resolveThread(ctx context.Context, job Job) (*types.Thread, error) {
	if job.ThreadID != "" {
		return w.store.Thread(ctx, job.ThreadID)
	}
	existing, err := w.store.ActiveThreadByChannel(ctx, job.UserID, job.ChannelID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	t := &types.Thread{
		ID: uuid.NewString(), UserID: job.UserID, ChannelID: job.ChannelID,
		State: types.ThreadActive, LastActivity: time.Now().UTC(), CreatedAt: time.Now().UTC(),
	}
	if err := w.store.UpsertThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (w *Worker) publish(userID string, ev bus.Event) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(bus.StreamKey(userID), ev); err != nil {
		logging.For("worker.digest").Warn().Err(err).Msg("publish event failed")
	}
}

func (w *Worker) respondViaReflex(ctx context.Context, thread *types.Thread, topicID, exchangeID string, d reflex.Decision) error {
	w.publish(thread.UserID, bus.Event{Type: "message", Topic: topicID, ExchangeID: exchangeID, Content: d.Response})
	w.publish(thread.UserID, bus.Event{Type: "done", Topic: topicID, ExchangeID: exchangeID})

	if err := w.working.Append(ctx, thread.ID, types.Turn{Role: "assistant", Content: d.Response, Timestamp: time.Now().UTC()}); err != nil {
		return err
	}
	decision := &types.RoutingDecision{
		ID: uuid.NewString(), Topic: topicID, ExchangeID: exchangeID, SelectedMode: d.TargetMode,
		RouterConfidence: 1.0, Scores: reflex.SyntheticScores(d.TargetMode), TiebreakerUsed: false,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.store.InsertRoutingDecision(ctx, decision); err != nil {
		return err
	}
	thread.ExchangeCount++
	thread.LastActivity = time.Now().UTC()
	if err := w.store.UpsertThread(ctx, thread); err != nil {
		return err
	}

	completedAt := time.Now().UTC()
	if err := w.store.UpdateMessageCycleStatus(ctx, exchangeID, types.CycleCompleted, &completedAt); err != nil {
		logging.For("worker.digest").Warn().Err(err).Str("cycle", exchangeID).Msg("mark cycle completed failed")
	}
	return nil
}

func (w *Worker) decide(ctx context.Context, topicID, exchangeID string, sig router.Signals, thread *types.Thread) (*types.RoutingDecision, error) {
	prevMode := types.Mode("")
	if last, err := w.store.LastRoutingDecisionForTopic(ctx, topicID); err == nil && last != nil {
		prevMode = last.SelectedMode
	}
	return w.router.Decide(ctx, topicID, exchangeID, sig, prevMode)
}
