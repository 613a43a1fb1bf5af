package consolidate

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// EpisodicJob is what the chunker enqueues onto episodic: the thread whose
// accumulated gists are ready to synthesize into one narrative episode.
// RootCycleID carries the originating MessageCycle through to the episode
// insert, the natural key double-enqueue dedup is keyed on (spec.md §8).
type EpisodicJob struct {
	ThreadID    string `json:"thread_id"`
	Topic       string `json:"topic"`
	RootCycleID string `json:"root_cycle_id,omitempty"`
}

// SemanticJob is what the episodic worker enqueues onto semantic: the fresh
// episode's gist text, the source material for concept extraction.
type SemanticJob struct {
	UserID    string `json:"user_id"`
	ThreadID  string `json:"thread_id"`
	Topic     string `json:"topic"`
	EpisodeID string `json:"episode_id"`
	Gist      string `json:"gist"`
}

type episodeSynthesis struct {
	Gist            string                `json:"gist"`
	Intent          types.IntentInfo      `json:"intent"`
	Context         types.EpisodeContext  `json:"context"`
	Action          string                `json:"action"`
	Emotion         types.EpisodeEmotion  `json:"emotion"`
	Outcome         string                `json:"outcome"`
	OpenLoops       []string              `json:"open_loops"`
	SalienceFactors types.SalienceFactors `json:"salience_factors"`
}

// Episodic is the episodic-worker stage: it synthesizes one Episode row
// from a thread's gists and recent turns, computes salience, and writes it
// plus its semantic handoff transactionally; the outbox relay, not this
// stage, is what actually reaches the semantic worker's queue.
type Episodic struct {
	store    *postgres.Store
	inbox    *queue.Queue
	working  *memory.Working
	gists    *memory.Gists
	episodes *memory.Episodes
	embedder llm.Embedder
	planner  llm.Provider
	gate     Gate
}

func NewEpisodic(store *postgres.Store, inbox *queue.Queue, working *memory.Working, gists *memory.Gists, episodes *memory.Episodes, embedder llm.Embedder, planner llm.Provider) *Episodic {
	return &Episodic{store: store, inbox: inbox, working: working, gists: gists, episodes: episodes, embedder: embedder, planner: planner}
}

// SetGate wires a host-load gate; when it reports no headroom the stage
// idles instead of dequeuing. Optional — nil leaves the stage ungated.
func (e *Episodic) SetGate(gate Gate) { e.gate = gate }

// Run dequeues episodic jobs until ctx is cancelled.
func (e *Episodic) Run(ctx context.Context) {
	runLoop(ctx, "worker.consolidate.episodic", e.inbox, e.gate, e.Process)
}

func (e *Episodic) Process(ctx context.Context, job EpisodicJob) error {
	thread, err := e.store.Thread(ctx, job.ThreadID)
	if err != nil {
		return err
	}
	turns, err := e.working.Recent(ctx, thread.ID, windowSize)
	if err != nil {
		return err
	}
	liveGists, err := e.gists.ForThread(ctx, thread.ID)
	if err != nil {
		return err
	}
	if len(turns) == 0 && len(liveGists) == 0 {
		return nil
	}

	synth, err := e.synthesize(ctx, turns, liveGists)
	if err != nil {
		// Validation failure on episode synthesis falls through to a bare
		// episode built from the raw gist text (spec.md §7), never
		// blocking the semantic stage behind it.
		synth = episodeSynthesis{Gist: flattenGists(liveGists), SalienceFactors: types.SalienceFactors{Novelty: 0.3}}
	}

	embedding, err := e.embedder.Embed(ctx, synth.Gist)
	if err != nil {
		embedding = nil
	}

	ep := &types.Episode{
		ID: uuid.NewString(), RootCycleID: job.RootCycleID, Topic: job.Topic, Gist: synth.Gist, Intent: synth.Intent,
		Context: synth.Context, Action: synth.Action, Emotion: synth.Emotion, Outcome: synth.Outcome,
		OpenLoops: synth.OpenLoops, SalienceFactors: synth.SalienceFactors, Embedding: embedding,
		CreatedAt: time.Now().UTC(), LastAccessedAt: time.Now().UTC(),
	}
	outbox := &types.EpisodeOutboxEntry{
		ID: uuid.NewString(), EpisodeID: ep.ID, UserID: thread.UserID, ThreadID: thread.ID,
		Topic: job.Topic, Gist: synth.Gist, CreatedAt: ep.CreatedAt,
	}
	inserted, err := e.episodes.RecordWithOutbox(ctx, thread.UserID, thread.ID, ep, outbox)
	if err != nil {
		return err
	}
	if !inserted {
		// RootCycleID already produced an episode (redelivered job); the
		// semantic handoff for it was already written, so there is
		// nothing left to do here (spec.md §8 dedup law).
		return nil
	}
	return nil
}

func (e *Episodic) synthesize(ctx context.Context, turns []types.Turn, liveGists []types.Gist) (episodeSynthesis, error) {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	if len(liveGists) > 0 {
		b.WriteString("\nKnown gists:\n")
		b.WriteString(flattenGists(liveGists))
	}

	req := llm.Request{
		System: `Synthesize this conversation window into one episode. Reply with a single JSON object:
{"gist":"one or two sentence narrative summary",
 "intent":{"type":"","direction":""},
 "context":{"situational":"","conversational":"","constraints":""},
 "action":"",
 "emotion":{"type":"","valence":0.0,"intensity":0.0,"arc":""},
 "outcome":"",
 "open_loops":[],
 "salience_factors":{"novelty":0.0,"emotional":0.0,"commitment":0.0,"unresolved":0.0}}
All numeric fields are in [0,1]. Reply with JSON only, no prose.`,
		Messages:  []llm.Message{{Role: "user", Content: b.String()}},
		MaxTokens: 1024,
	}
	resp, err := e.planner.Complete(ctx, req)
	if err != nil {
		return episodeSynthesis{}, err
	}
	var out episodeSynthesis
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return episodeSynthesis{}, cogerr.Validationf("consolidate.Episodic.synthesize", "unmarshal: %w", err)
	}
	return out, nil
}

func flattenGists(gists []types.Gist) string {
	var b strings.Builder
	for _, g := range gists {
		b.WriteString("- ")
		b.WriteString(g.Content)
		b.WriteString("\n")
	}
	return b.String()
}
