package act

import (
	"context"
	"strings"

	"github.com/cogloop/core/internal/llm"
)

// LLMVerificationCritic is the opt-in post-action verifier (spec.md §4.6,
// SPEC_FULL Open Question decision: off by default, toggled via
// config.VerificationCriticEnabled). It asks a cheap completion whether a
// tool's output actually satisfies the action that requested it.
type LLMVerificationCritic struct {
	provider llm.Provider
	model    string
}

func NewLLMVerificationCritic(provider llm.Provider, model string) *LLMVerificationCritic {
	return &LLMVerificationCritic{provider: provider, model: model}
}

func (c *LLMVerificationCritic) Verify(ctx context.Context, result Result) (bool, string) {
	if result.Err != nil {
		return false, "action returned an error"
	}
	prompt := "Tool '" + result.Action.Tool + "' returned:\n" + result.Output +
		"\nDoes this output plausibly satisfy the request? Reply YES or NO followed by a short reason."

	resp, err := c.provider.Complete(ctx, llm.Request{
		System:    "You are a terse verification critic for tool outputs.",
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 40,
		Model:     c.model,
	})
	if err != nil {
		return true, "" // fail open: a critic outage never blocks the loop
	}

	text := strings.TrimSpace(resp.Text)
	if strings.HasPrefix(strings.ToUpper(text), "NO") {
		return false, text
	}
	return true, ""
}
