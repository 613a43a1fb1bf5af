// Package llm is the opaque language-model boundary every higher-level
// component (router tiebreak, mode generators, ACT planner, consolidation
// workers, regulators) calls through, so none of them import an SDK
// directly. Grounded on the teacher's internal/executive/claude.go, which
// wraps Claude Code CLI sessions behind a narrow Go interface the rest of
// the executive calls without knowing about process management; this
// generalizes that boundary to a request/response struct over the Anthropic
// Messages API instead of a CLI subprocess.
package llm

import "context"

// Request is a single, stateless completion call. History, if any, is the
// caller's responsibility to serialize into Messages.
type Request struct {
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// Model overrides the provider's configured default, used by the
	// Routing Reflection worker to route to a stronger model than the
	// per-message tiebreak path needs.
	Model string
}

type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Response is a completed call's text plus basic accounting.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is the contract every LLM-backed component depends on.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Embedder generates a fixed-length embedding for a piece of text, used by
// topic classification, episodic/semantic consolidation, and context
// assembly's semantic-layer retrieval.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dim() int
}
