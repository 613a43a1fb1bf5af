package act

import (
	"strconv"
	"strings"

	"github.com/cogloop/core/internal/llm"
)

// maxPlannerTokens bounds a single planner call's response budget (spec.md
// §4.6 leaves this unspecified; 1024 comfortably fits a PlannerResponse
// JSON object plus a short user-facing response string).
const maxPlannerTokens = 1024

// DefaultPromptBuilder renders the iterative planner prompt: the cycle's
// goal, the assembled context snapshot, the live tool catalogue, and the
// running transcript of dispatched actions, asking for a single JSON
// PlannerResponse object back.
//
// Grounded on the teacher's internal/executive system-prompt template
// (goal + available tools + prior tool outputs folded into one message),
// adapted to this loop's strict PlannerResponse JSON contract instead of
// the teacher's free-form Claude Code session transcript.
type DefaultPromptBuilder struct {
	goal        string
	contextText string
	registry    *Registry
}

func NewDefaultPromptBuilder(goal, contextText string, registry *Registry) *DefaultPromptBuilder {
	return &DefaultPromptBuilder{goal: goal, contextText: contextText, registry: registry}
}

func (b *DefaultPromptBuilder) BuildPrompt(history []Result, iteration int) (llm.Request, error) {
	var sys strings.Builder
	sys.WriteString("You are the action-taking mode of a personal assistant. ")
	sys.WriteString("Reply with exactly one JSON object: ")
	sys.WriteString(`{"actions":[{"tool":"name","args":{}}],"response":"text","task_complete":bool}`)
	sys.WriteString(". Leave actions empty once the goal is satisfied and set response to the final answer.\n\n")
	sys.WriteString("Goal: " + b.goal + "\n")
	if b.contextText != "" {
		sys.WriteString("\nContext:\n" + b.contextText + "\n")
	}
	if b.registry != nil {
		names := b.registry.Names()
		if len(names) > 0 {
			sys.WriteString("\nAvailable tools: " + strings.Join(names, ", ") + "\n")
		}
	}

	var transcript strings.Builder
	for _, r := range history {
		transcript.WriteString("called " + r.Action.Tool + " -> ")
		if r.Err != nil {
			transcript.WriteString("error: " + r.Err.Error())
		} else {
			transcript.WriteString(r.Output)
		}
		transcript.WriteString("\n")
	}
	if transcript.Len() == 0 {
		transcript.WriteString("(no actions dispatched yet)")
	}

	messages := []llm.Message{{
		Role:    "user",
		Content: "Iteration " + strconv.Itoa(iteration) + "\n" + transcript.String(),
	}}
	return llm.Request{System: sys.String(), Messages: messages, MaxTokens: maxPlannerTokens}, nil
}
