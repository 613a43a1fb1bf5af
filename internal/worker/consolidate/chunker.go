package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
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

// ChunkerJob is what the digest worker enqueues onto memory_chunker: the
// thread and topic whose recent exchanges are ready to distill.
// RootCycleID is the MessageCycle whose boundary (or 6-exchange cadence)
// triggered this pass, threaded through to the episodic stage for its
// natural-key episode dedup (spec.md §8).
type ChunkerJob struct {
	ThreadID    string `json:"thread_id"`
	Topic       string `json:"topic"`
	RootCycleID string `json:"root_cycle_id,omitempty"`
}

// chunkExtraction is the parsed shape of one memory-chunker LLM call.
type chunkExtraction struct {
	Gists    []extractedGist    `json:"gists"`
	Facts    []extractedFact    `json:"facts"`
	Traits   []extractedTrait   `json:"traits"`
	Style    map[string]float64 `json:"communication_style"`
	Episode  bool               `json:"episode_worthy"`
}

type extractedGist struct {
	Content    string  `json:"content"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

type extractedFact struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

type extractedTrait struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Literal    bool    `json:"is_literal"`
}

// Chunker is the memory_chunker stage: one LLM call that turns a window of
// raw exchanges into gists, facts, traits, and communication-style scores,
// then hands the thread off to the episodic worker.
type Chunker struct {
	store    *postgres.Store
	inbox    *queue.Queue
	episodic *queue.Queue
	working  *memory.Working
	gists    *memory.Gists
	facts    *memory.Facts
	traits   *memory.Traits
	planner  llm.Provider
	gate     Gate
}

func NewChunker(store *postgres.Store, inbox, episodic *queue.Queue, working *memory.Working, gists *memory.Gists, facts *memory.Facts, traits *memory.Traits, planner llm.Provider) *Chunker {
	return &Chunker{store: store, inbox: inbox, episodic: episodic, working: working, gists: gists, facts: facts, traits: traits, planner: planner}
}

// SetGate wires a host-load gate; when it reports no headroom the stage
// idles instead of dequeuing. Optional — nil leaves the stage ungated.
func (c *Chunker) SetGate(gate Gate) { c.gate = gate }

// Run dequeues memory_chunker jobs until ctx is cancelled.
func (c *Chunker) Run(ctx context.Context) {
	runLoop(ctx, "worker.consolidate.chunker", c.inbox, c.gate, c.Process)
}

// windowSize is how many recent turns one chunking pass distills.
const windowSize = 12

func (c *Chunker) Process(ctx context.Context, job ChunkerJob) error {
	thread, err := c.store.Thread(ctx, job.ThreadID)
	if err != nil {
		return err
	}
	turns, err := c.working.Recent(ctx, thread.ID, windowSize)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}

	extraction, err := c.extract(ctx, turns)
	if err != nil {
		// Validation failure on chunker output falls through to an empty
		// extraction rather than blocking the consolidation chain (spec.md
		// §7: "fall through to safest default ... empty gists on chunker
		// failure").
		extraction = chunkExtraction{Episode: true}
	}

	now := time.Now().UTC()
	for _, g := range extraction.Gists {
		if g.Content == "" {
			continue
		}
		if err := c.gists.Store(ctx, &types.Gist{
			ID: uuid.NewString(), ThreadID: thread.ID, Topic: job.Topic,
			Content: g.Content, Type: g.Type, Confidence: g.Confidence, CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	for _, f := range extraction.Facts {
		if f.Key == "" {
			continue
		}
		if err := c.facts.Store(ctx, &types.Fact{
			ThreadID: thread.ID, Key: f.Key, Value: f.Value, Confidence: f.Confidence, CreatedAt: now,
		}); err != nil {
			return err
		}
	}
	for _, t := range extraction.Traits {
		if t.Key == "" {
			continue
		}
		if err := c.traits.Reinforce(ctx, &types.UserTrait{
			UserID: thread.UserID, TraitKey: t.Key, TraitValue: t.Value,
			Category: types.TraitCategory(t.Category), Confidence: t.Confidence,
			IsLiteral: t.Literal, Source: types.TraitInferred, LastReinforcedAt: now,
		}, false); err != nil {
			return err
		}
	}
	// Communication style has no dedicated table; it is stored as a
	// behavioral trait per style axis (e.g. "style.formality" -> "0.70"),
	// reusing the trait store rather than adding a schema-only concern.
	for axis, score := range extraction.Style {
		if err := c.traits.Reinforce(ctx, &types.UserTrait{
			UserID: thread.UserID, TraitKey: "style." + axis, TraitValue: fmt.Sprintf("%.2f", score),
			Category: types.TraitCategoryBehavioral, Confidence: 0.6, Source: types.TraitInferred,
			LastReinforcedAt: now,
		}, false); err != nil {
			return err
		}
	}

	if _, err := c.episodic.Enqueue(ctx, EpisodicJob{ThreadID: thread.ID, Topic: job.Topic, RootCycleID: job.RootCycleID}); err != nil {
		return cogerr.Transientf("consolidate.Chunker.Process", "enqueue episodic: %w", err)
	}
	return nil
}

func (c *Chunker) extract(ctx context.Context, turns []types.Turn) (chunkExtraction, error) {
	var b strings.Builder
	for _, t := range turns {
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}

	req := llm.Request{
		System: `Extract durable memory from this exchange window. Reply with a single JSON object:
{"gists":[{"content":"","type":"","confidence":0.0}],
 "facts":[{"key":"","value":"","confidence":0.0}],
 "traits":[{"key":"","value":"","category":"identity|preference|factual|behavioral","confidence":0.0,"is_literal":false}],
 "communication_style":{"formality":0.0,"verbosity":0.0,"directness":0.0},
 "episode_worthy":true}
Only include items you are actually confident about; empty arrays are fine. Reply with JSON only, no prose.`,
		Messages:  []llm.Message{{Role: "user", Content: b.String()}},
		MaxTokens: 1024,
	}
	resp, err := c.planner.Complete(ctx, req)
	if err != nil {
		return chunkExtraction{}, err
	}
	var out chunkExtraction
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return chunkExtraction{}, cogerr.Validationf("consolidate.Chunker.extract", "unmarshal: %w", err)
	}
	return out, nil
}
