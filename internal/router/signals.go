package router

import (
	"strings"
	"time"

	"github.com/tsawler/prose/v3"

	"github.com/cogloop/core/internal/numerics"
	"github.com/cogloop/core/internal/types"
)

// SignalInput bundles everything the signal computations read from a single
// cycle. Built by the digest worker before calling Router.Decide.
type SignalInput struct {
	Message         string
	PrevMode        types.Mode
	TopicSimilarity float64
	WorkingTurns    []types.Turn
	TurnsInTopic    int
	FactCount       int
	MemoryConfidence float64
	HasPendingTask  bool
	ActionToolsReady bool
	SearchToolsReady bool
	LastEventAge    time.Duration
	MentionsSchedule bool
	MentionsDeadline bool
}

// ComputeSignals turns a SignalInput into the signal vector the router
// scores against its weight table (spec.md §4.5, names matching
// config/defaults.yaml's router_weights keys so the default prior is
// meaningful without a tuning pass).
func ComputeSignals(in SignalInput) Signals {
	msg := strings.ToLower(strings.TrimSpace(in.Message))

	toolTrigger := 0.0
	if in.ActionToolsReady || in.SearchToolsReady {
		toolTrigger = 1.0
	}

	imperative, questions := parseSyntax(in.Message, msg)

	sig := Signals{
		"context_warmth":        numerics.Clamp(in.TopicSimilarity, 0, 1),
		"memory_confidence":     numerics.Clamp(in.MemoryConfidence, 0, 1),
		"greeting_pattern":      boolSignal(isGreeting(msg)),
		"freshness_risk":        freshnessRisk(msg, in.MentionsSchedule, in.MentionsDeadline),
		"tool_trigger_count":    toolTrigger,
		"imperative_verb_count": boolSignal(imperative),
		"question_mark_count":   countSignal(questions),
		"fact_count":            countSignal(in.FactCount),
		"turns_in_topic":        countSignal(in.TurnsInTopic),
		"new_information":       boolSignal(!isRepeatOfLastTurn(msg, in.WorkingTurns)),
		"has_pending_task":      boolSignal(in.HasPendingTask),
	}
	return sig
}

// parseSyntax uses prose/v3's tagger to decide whether the message opens
// with a bare imperative verb (a sentence-initial base-form verb with no
// subject, e.g. "schedule a call") and counts question-ending sentences,
// falling back to the cheap lexical heuristics below when tagging fails on
// malformed input (prose.NewDocument errors on empty/degenerate text).
func parseSyntax(original, lower string) (imperative bool, questions int) {
	doc, err := prose.NewDocument(original)
	if err != nil {
		return isImperative(lower), strings.Count(lower, "?")
	}

	sentences := doc.Sentences()
	if len(sentences) == 0 {
		return isImperative(lower), strings.Count(lower, "?")
	}
	for _, s := range sentences {
		if strings.HasSuffix(strings.TrimSpace(s.Text), "?") {
			questions++
		}
	}

	tokens := doc.Tokens()
	if len(tokens) > 0 && tokens[0].Tag == "VB" {
		imperative = true
	} else {
		imperative = isImperative(lower)
	}
	return imperative, questions
}

func boolSignal(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// countSignal squashes an unbounded count into [0,1] via n/(n+2), a gentle
// diminishing-returns curve so a handful of facts/turns already saturates
// most of the signal's effect.
func countSignal(n int) float64 {
	if n <= 0 {
		return 0
	}
	f := float64(n)
	return f / (f + 2)
}

var greetingWords = []string{"hi", "hello", "hey", "morning", "evening", "good afternoon"}

func isGreeting(msg string) bool {
	for _, g := range greetingWords {
		if strings.HasPrefix(msg, g) {
			return true
		}
	}
	return false
}

var imperativeVerbs = []string{"send", "schedule", "remind", "find", "book", "cancel", "set", "create", "delete", "check", "look up", "search"}

func isImperative(msg string) bool {
	for _, v := range imperativeVerbs {
		if strings.HasPrefix(msg, v+" ") || strings.Contains(msg, " "+v+" ") {
			return true
		}
	}
	return false
}

// isRepeatOfLastTurn reports whether msg is (near-)identical to the user's
// previous turn, the "new_information" signal CLARIFY-suppression reads.
func isRepeatOfLastTurn(msg string, turns []types.Turn) bool {
	if msg == "" || len(turns) == 0 {
		return false
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != "user" {
			continue
		}
		return strings.EqualFold(strings.TrimSpace(turns[i].Content), msg)
	}
	return false
}

// freshnessRisk estimates how likely the message needs information that may
// be stale in memory and require a live lookup (weather, current events,
// schedules), the key input to ACT's deterministic override.
func freshnessRisk(msg string, mentionsSchedule, mentionsDeadline bool) float64 {
	risk := 0.0
	for _, kw := range []string{"current", "latest", "today", "right now", "weather", "price of", "news"} {
		if strings.Contains(msg, kw) {
			risk += 0.3
		}
	}
	if mentionsSchedule {
		risk += 0.2
	}
	if mentionsDeadline {
		risk += 0.2
	}
	return numerics.Clamp(risk, 0, 1)
}
