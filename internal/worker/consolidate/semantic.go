package consolidate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/logging"
	"github.com/cogloop/core/internal/memory"
	"github.com/cogloop/core/internal/queue"
	"github.com/cogloop/core/internal/types"
)

type semanticExtraction struct {
	Concepts      []extractedConcept      `json:"concepts"`
	Relationships []extractedRelationship `json:"relationships"`
}

type extractedConcept struct {
	Name             string  `json:"name"`
	Type             string  `json:"type"`
	Definition       string  `json:"definition"`
	AbstractionLevel int     `json:"abstraction_level"`
	Confidence       float64 `json:"confidence"`
}

type extractedRelationship struct {
	Source        string  `json:"source"`
	Target        string  `json:"target"`
	Type          string  `json:"type"`
	Strength      float64 `json:"strength"`
	Bidirectional bool    `json:"bidirectional"`
}

// defaultDecayResistance seeds a freshly learned concept's resistance at
// 0.7, just below the midpoint of its valid [0.5, 1] range; repeated
// reinforcement is what should
// eventually push well-established concepts toward the resistant end, not
// this worker guessing on first encounter.
const defaultDecayResistance = 0.7

// Semantic is the semantic-worker stage: it extracts concepts and typed
// relationships from an episode's gist text and upserts them into the
// concept graph with reinforcement.
type Semantic struct {
	inbox    *queue.Queue
	concepts *memory.Concepts
	embedder llm.Embedder
	planner  llm.Provider
	gate     Gate
}

func NewSemantic(inbox *queue.Queue, concepts *memory.Concepts, embedder llm.Embedder, planner llm.Provider) *Semantic {
	return &Semantic{inbox: inbox, concepts: concepts, embedder: embedder, planner: planner}
}

// SetGate wires a host-load gate; when it reports no headroom the stage
// idles instead of dequeuing. Optional — nil leaves the stage ungated.
func (s *Semantic) SetGate(gate Gate) { s.gate = gate }

// Run dequeues semantic jobs until ctx is cancelled.
func (s *Semantic) Run(ctx context.Context) {
	runLoop(ctx, "worker.consolidate.semantic", s.inbox, s.gate, s.process)
}

func (s *Semantic) process(ctx context.Context, job SemanticJob) error {
	if job.Gist == "" {
		return nil
	}
	userID := job.UserID
	extraction, err := s.extract(ctx, job.Gist)
	if err != nil {
		logging.For("worker.consolidate.semantic").Warn().Err(err).Msg("concept extraction failed, skipping")
		return nil
	}

	now := time.Now().UTC()
	byName := make(map[string]*types.Concept, len(extraction.Concepts))
	for _, ec := range extraction.Concepts {
		if ec.Name == "" {
			continue
		}
		embedding, err := s.embedder.Embed(ctx, ec.Definition)
		if err != nil {
			embedding = nil
		}
		c := &types.Concept{
			ID: uuid.NewString(), Name: ec.Name, Type: ec.Type, Definition: ec.Definition,
			Embedding: embedding, AbstractionLevel: ec.AbstractionLevel,
			Strength: 1, ActivationScore: ec.Confidence, Confidence: ec.Confidence,
			DecayResistance: defaultDecayResistance, FirstLearned: now, LastAccessed: now, LastReinforced: now,
		}
		if err := s.concepts.Learn(ctx, userID, c); err != nil {
			return err
		}
		byName[ec.Name] = c
	}

	for _, er := range extraction.Relationships {
		if er.Source == "" || er.Target == "" {
			continue
		}
		src, err := s.resolve(ctx, userID, er.Source, byName)
		if err != nil || src == nil {
			continue
		}
		tgt, err := s.resolve(ctx, userID, er.Target, byName)
		if err != nil || tgt == nil {
			continue
		}
		rel := &types.ConceptRelationship{
			SourceID: src.ID, TargetID: tgt.ID, Type: types.ConceptRelationType(er.Type),
			Strength: er.Strength, Bidirectional: er.Bidirectional,
		}
		if err := s.concepts.Relate(ctx, rel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Semantic) resolve(ctx context.Context, userID, name string, byName map[string]*types.Concept) (*types.Concept, error) {
	if c, ok := byName[name]; ok {
		return c, nil
	}
	return s.concepts.ByName(ctx, userID, name)
}

func (s *Semantic) extract(ctx context.Context, gist string) (semanticExtraction, error) {
	req := llm.Request{
		System: `Extract concepts and relationships from this episode summary for a personal knowledge graph. Reply with a single JSON object:
{"concepts":[{"name":"","type":"","definition":"","abstraction_level":0,"confidence":0.0}],
 "relationships":[{"source":"","target":"","type":"is-a|part-of|related-to|prerequisite-for|enables|used-for|contradicts|alternative-to","strength":0.0,"bidirectional":false}]}
Concept names must match exactly between the two arrays. Reply with JSON only, no prose.`,
		Messages:  []llm.Message{{Role: "user", Content: gist}},
		MaxTokens: 1024,
	}
	resp, err := s.planner.Complete(ctx, req)
	if err != nil {
		return semanticExtraction{}, err
	}
	var out semanticExtraction
	if err := json.Unmarshal([]byte(resp.Text), &out); err != nil {
		return semanticExtraction{}, cogerr.Validationf("consolidate.Semantic.extract", "unmarshal: %w", err)
	}
	return out, nil
}
