package router

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cogloop/core/internal/llm"
	"github.com/cogloop/core/internal/types"
)

// LLMTiebreaker resolves close-margin routing decisions with a single cheap
// completion call, asked to pick between the top two candidate modes only.
type LLMTiebreaker struct {
	provider llm.Provider
	model    string
}

func NewLLMTiebreaker(provider llm.Provider, model string) *LLMTiebreaker {
	return &LLMTiebreaker{provider: provider, model: model}
}

func (t *LLMTiebreaker) Resolve(ctx context.Context, signals map[string]float64, candidates []types.Mode) (types.Mode, error) {
	if len(candidates) == 0 {
		return types.ModeRespond, nil
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	names := make([]string, len(candidates))
	for i, m := range candidates {
		names[i] = string(m)
	}
	sigJSON, _ := json.Marshal(signals)

	prompt := fmt.Sprintf(
		"Routing signals: %s\nPick exactly one mode from [%s] for this turn. Reply with only the mode name.",
		string(sigJSON), strings.Join(names, ", "))

	resp, err := t.provider.Complete(ctx, llm.Request{
		System:    "You are a routing tiebreaker. Reply with a single word: one of the given mode names.",
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens: 8,
		Model:     t.model,
	})
	if err != nil {
		return candidates[0], err
	}

	picked := types.Mode(strings.ToUpper(strings.TrimSpace(resp.Text)))
	for _, m := range candidates {
		if m == picked {
			return m, nil
		}
	}
	return candidates[0], nil
}
