// Package context assembles a budgeted snapshot of everything the mode
// router and generators need for one cycle (spec.md §4.3): working memory,
// gists, facts, episodes, and concepts, each under a sub-budget of a single
// token budget B, in deterministic order.
//
// Grounded on the teacher's internal/attention package, which also merges
// several independently-scored pools (percepts, threads, traces) into one
// ranked view before a generation call; this generalizes that merge into
// explicit per-layer percentage sub-budgets instead of attention's single
// arousal-weighted salience score.
package context

import (
	"context"
	"sort"
	"time"

	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/store/postgres"
	"github.com/cogloop/core/internal/types"
)

// Sub-budget percentages (spec.md §4.3), fixed — not configurable, since
// they are a structural property of the assembler, not a tuned parameter.
const (
	budgetWorkingMemory = 0.20
	budgetGists         = 0.15
	budgetFacts         = 0.10
	budgetEpisodes      = 0.30
	budgetConcepts      = 0.25
)

// charsPerToken approximates a token as 4 characters, avoiding a tokenizer
// dependency the pack doesn't otherwise use.
const charsPerToken = 4

// Candidate is one scored item from a single layer.
type Candidate struct {
	Layer     string
	Text      string
	Score     float64
	CreatedAt time.Time
}

// Snapshot is the assembled, budget-trimmed context for one cycle.
type Snapshot struct {
	Topic      string
	Candidates []Candidate
}

// Assembler merges the five memory layers under a shared token budget.
type Assembler struct {
	working  *memory.Working
	gists    *memory.Gists
	facts    *memory.Facts
	episodes *memory.Episodes
	concepts *memory.Concepts
}

func NewAssembler(w *memory.Working, g *memory.Gists, f *memory.Facts, e *memory.Episodes, c *memory.Concepts) *Assembler {
	return &Assembler{working: w, gists: g, facts: f, episodes: e, concepts: c}
}

// Assemble retrieves candidates from each layer in parallel and returns the
// budget-trimmed, deterministically-ordered snapshot.
func (a *Assembler) Assemble(ctx context.Context, userID, threadID, topic, queryText string, queryEmbedding []float32, budgetTokens int) (*Snapshot, error) {
	type layerResult struct {
		layer string
		cands []Candidate
		err   error
	}
	results := make(chan layerResult, 5)

	go func() {
		turns, err := a.working.Recent(ctx, threadID, 4)
		cands := make([]Candidate, 0, len(turns))
		for _, t := range turns {
			cands = append(cands, Candidate{Layer: "working_memory", Text: t.Content, Score: 1.0, CreatedAt: t.Timestamp})
		}
		results <- layerResult{"working_memory", cands, err}
	}()

	go func() {
		gists, err := a.gists.Search(ctx, threadID, queryText, 20)
		cands := make([]Candidate, 0, len(gists))
		for _, g := range gists {
			cands = append(cands, Candidate{Layer: "gists", Text: g.Content, Score: g.Confidence, CreatedAt: g.CreatedAt})
		}
		results <- layerResult{"gists", cands, err}
	}()

	go func() {
		facts, err := a.facts.Search(ctx, threadID, queryText, 20)
		cands := make([]Candidate, 0, len(facts))
		for _, f := range facts {
			cands = append(cands, Candidate{Layer: "facts", Text: f.Key + "=" + f.Value, Score: f.Confidence, CreatedAt: f.CreatedAt})
		}
		results <- layerResult{"facts", cands, err}
	}()

	go func() {
		var cands []Candidate
		var err error
		if len(queryEmbedding) > 0 {
			var hits []postgres.EpisodeHit
			hits, err = a.episodes.HybridRecall(ctx, userID, queryEmbedding, queryText, 10)
			for _, hit := range hits {
				cands = append(cands, Candidate{Layer: "episodes", Text: hit.Episode.Gist, Score: hit.Score, CreatedAt: hit.Episode.CreatedAt})
			}
		}
		results <- layerResult{"episodes", cands, err}
	}()

	go func() {
		var cands []Candidate
		var err error
		if len(queryEmbedding) > 0 {
			var seeds []types.Concept
			seeds, err = a.concepts.SeedByQuery(ctx, userID, queryEmbedding, 5)
			if err == nil && len(seeds) > 0 {
				ids := make([]string, len(seeds))
				byID := make(map[string]types.Concept, len(seeds))
				for i, c := range seeds {
					ids[i] = c.ID
					byID[c.ID] = c
				}
				var activation map[string]float64
				activation, err = a.concepts.Activate(ctx, ids)
				for id, level := range activation {
					name := id
					if c, ok := byID[id]; ok {
						name = c.Name
					}
					cands = append(cands, Candidate{Layer: "concepts", Text: name, Score: level, CreatedAt: time.Now().UTC()})
				}
			}
		}
		results <- layerResult{"concepts", cands, err}
	}()

	byLayer := make(map[string][]Candidate, 5)
	for i := 0; i < 5; i++ {
		r := <-results
		if r.err != nil {
			continue
		}
		byLayer[r.layer] = r.cands
	}

	snap := &Snapshot{Topic: topic}
	layerBudget := map[string]float64{
		"working_memory": budgetWorkingMemory,
		"gists":          budgetGists,
		"facts":          budgetFacts,
		"episodes":       budgetEpisodes,
		"concepts":       budgetConcepts,
	}
	for _, layer := range []string{"working_memory", "gists", "facts", "episodes", "concepts"} {
		cands := byLayer[layer]
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].Score != cands[j].Score {
				return cands[i].Score > cands[j].Score
			}
			return cands[i].CreatedAt.After(cands[j].CreatedAt)
		})
		budgetChars := int(float64(budgetTokens)*layerBudget[layer]) * charsPerToken
		snap.Candidates = append(snap.Candidates, trimToBudget(cands, budgetChars)...)
	}
	return snap, nil
}

// trimToBudget keeps candidates, highest-scored first, until adding the
// next one would exceed budgetChars. Guarantees at least one candidate
// survives if the layer returned any, so no layer is completely starved.
func trimToBudget(cands []Candidate, budgetChars int) []Candidate {
	if len(cands) == 0 {
		return nil
	}
	var out []Candidate
	used := 0
	for _, c := range cands {
		if used+len(c.Text) > budgetChars && len(out) > 0 {
			break
		}
		out = append(out, c)
		used += len(c.Text)
	}
	return out
}
