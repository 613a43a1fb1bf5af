// Package act implements the ACT mode generation loop (spec.md §4.6): an
// iterative planner/dispatcher cycle bounded by an iteration budget, a
// wall-clock budget, and a shared fatigue allowance, with dedup via action
// fingerprinting and a repetition/error-demotion safety net.
//
// Grounded on the teacher's internal/executive/executive_v2.go wake/dispatch
// loop (plan -> call Claude -> parse actions -> dispatch -> append to
// history) and internal/motivation/tasks.go (multi-session task state used
// as the model for PersistentTask escalation), generalized from the
// teacher's single always-on Claude session into a per-cycle bounded loop
// with an explicit exit-condition ladder.
package act

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/llm"
)

// Budgets (spec.md §4.6).
const (
	BudgetIterations   = 7
	BudgetWall         = 60 * time.Second
	RepetitionLimit    = 3
	ToolErrorDemoteAt  = 2
)

// ExitReason names why the loop stopped, persisted for observability.
type ExitReason string

const (
	ExitDone       ExitReason = "done"
	ExitBudget     ExitReason = "budget"
	ExitTimeout    ExitReason = "timeout"
	ExitRepetition ExitReason = "repetition"
	ExitFatigue    ExitReason = "fatigue"
)

// PlannerResponse is the parsed shape of one planner call.
type PlannerResponse struct {
	Actions      []Action `json:"actions"`
	Response     string   `json:"response"`
	TaskComplete bool     `json:"task_complete"`
}

// PromptBuilder builds the planner prompt from the running history, the
// same responsibility the digest worker's context snapshot feeds in.
type PromptBuilder interface {
	BuildPrompt(history []Result, iteration int) (llm.Request, error)
}

// VerificationCritic is the opt-in post-action critic (spec.md §4.6).
type VerificationCritic interface {
	Verify(ctx context.Context, result Result) (ok bool, note string)
}

// Outcome is everything the digest worker needs after the loop ends.
type Outcome struct {
	Response       string
	History        []Result
	ExitReason     ExitReason
	IterationsUsed int
	Elapsed        time.Duration
	DemotedTool    string
	EscalateToTask bool
}

// Loop runs one bounded ACT iteration sequence for a single cycle.
type Loop struct {
	planner  llm.Provider
	prompts  PromptBuilder
	registry *Registry
	fatigue  *FatigueTracker
	critic   VerificationCritic // nil disables the opt-in critic

	budgetIterations int
	budgetWall       time.Duration
}

func NewLoop(planner llm.Provider, prompts PromptBuilder, registry *Registry, fatigue *FatigueTracker, critic VerificationCritic) *Loop {
	return &Loop{
		planner:          planner,
		prompts:          prompts,
		registry:         registry,
		fatigue:          fatigue,
		critic:           critic,
		budgetIterations: BudgetIterations,
		budgetWall:       BudgetWall,
	}
}

// WithBudgets overrides the default budgets, used by the persistent-task
// scheduler to run a much larger bounded loop (max_iterations default 20).
func (l *Loop) WithBudgets(iterations int, wall time.Duration) *Loop {
	clone := *l
	clone.budgetIterations = iterations
	clone.budgetWall = wall
	return &clone
}

// Run drives the plan/dispatch cycle to completion, applying exit
// conditions in the fixed precedence order the spec requires: budget,
// timeout, repetition, fatigue.
func (l *Loop) Run(ctx context.Context, userID string) (Outcome, error) {
	start := time.Now()
	deadline := start.Add(l.budgetWall)
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var history []Result
	visited := make(map[string]bool)
	toolErrors := make(map[string]int)
	var repeatFingerprint string
	repeatCount := 0

	for iteration := 0; iteration < l.budgetIterations; iteration++ {
		if time.Now().After(deadline) {
			return finish(history, ExitTimeout, iteration, start), nil
		}

		req, err := l.prompts.BuildPrompt(history, iteration)
		if err != nil {
			return finish(history, ExitTimeout, iteration, start), cogerr.Validationf("act.Loop.Run", "build prompt: %w", err)
		}

		resp, err := l.planner.Complete(runCtx, req)
		if err != nil {
			if runCtx.Err() != nil {
				return finish(history, ExitTimeout, iteration, start), nil
			}
			return finish(history, ExitBudget, iteration, start), cogerr.Transientf("act.Loop.Run", "planner call: %w", err)
		}

		var parsed PlannerResponse
		if err := json.Unmarshal([]byte(resp.Text), &parsed); err != nil {
			return finish(history, ExitBudget, iteration, start), cogerr.Validationf("act.Loop.Run", "parse planner response: %w", err)
		}

		if len(parsed.Actions) == 0 {
			out := finish(history, ExitDone, iteration, start)
			out.Response = parsed.Response
			return out, nil
		}

		parallel, sequential := splitByParallelSafety(l.registry, parsed.Actions)

		for _, a := range sequential {
			result, fp, exhausted := l.dispatch(runCtx, userID, a, visited, toolErrors)
			history = append(history, result)
			if fp == repeatFingerprint {
				repeatCount++
			} else {
				repeatFingerprint = fp
				repeatCount = 1
			}
			if repeatCount >= RepetitionLimit {
				return finish(history, ExitRepetition, iteration, start), nil
			}
			if exhausted {
				return finish(history, ExitFatigue, iteration, start), nil
			}
			if demoted := demoteIfNeeded(l.registry, toolErrors, a.Tool); demoted {
				out := finish(history, ExitDone, iteration, start)
				out.DemotedTool = a.Tool
				return out, nil
			}
		}

		history = append(history, l.dispatchParallel(runCtx, userID, parallel, visited, toolErrors)...)

		if parsed.TaskComplete {
			out := finish(history, ExitDone, iteration, start)
			out.Response = parsed.Response
			return out, nil
		}
	}

	out := finish(history, ExitBudget, l.budgetIterations, start)
	out.EscalateToTask = len(out.Response) == 0
	return out, nil
}

func finish(history []Result, reason ExitReason, iterations int, start time.Time) Outcome {
	return Outcome{
		History:        history,
		ExitReason:     reason,
		IterationsUsed: iterations,
		Elapsed:        time.Since(start),
	}
}

func splitByParallelSafety(reg *Registry, actions []Action) (parallel, sequential []Action) {
	for _, a := range actions {
		if t, ok := reg.Resolve(a.Tool); ok && t.ParallelSafe() {
			parallel = append(parallel, a)
		} else {
			sequential = append(sequential, a)
		}
	}
	return parallel, sequential
}

func (l *Loop) dispatch(ctx context.Context, userID string, a Action, visited map[string]bool, toolErrors map[string]int) (Result, string, bool) {
	fp, err := Fingerprint(a)
	if err != nil {
		return Result{Action: a, Err: err}, "", false
	}
	if visited[fp] {
		return Result{Action: a, Fingerprint: fp, Err: cogerr.Policyf("act.Loop.dispatch", "fingerprint already visited")}, fp, false
	}
	visited[fp] = true

	tool, ok := l.registry.Resolve(a.Tool)
	if !ok {
		return Result{Action: a, Fingerprint: fp, Err: cogerr.Contractf("act.Loop.dispatch", "unknown tool %q", a.Tool)}, fp, false
	}

	callCtx, cancel := context.WithTimeout(ctx, ToolCallTimeout)
	defer cancel()

	out, err := tool.Call(callCtx, a.Args)
	result := Result{Action: a, Fingerprint: fp, Output: out}
	if err != nil {
		if callCtx.Err() != nil {
			result.Cancelled = true
			result.Err = cogerr.Transientf("act.Loop.dispatch", "cancelled: %w", callCtx.Err())
		} else {
			result.Err = err
			toolErrors[a.Tool]++
		}
	}

	if l.critic != nil {
		if ok, note := l.critic.Verify(ctx, result); !ok {
			result.Output = result.Output + "\n[verification flagged: " + note + "]"
		}
	}

	exhausted := l.fatigue.Spend(userID, costOf(a))
	return result, fp, exhausted
}

func (l *Loop) dispatchParallel(ctx context.Context, userID string, actions []Action, visited map[string]bool, toolErrors map[string]int) []Result {
	if len(actions) == 0 {
		return nil
	}
	results := make([]Result, len(actions))
	done := make(chan int, len(actions))
	for i, a := range actions {
		go func(i int, a Action) {
			r, _, _ := l.dispatch(ctx, userID, a, visited, toolErrors)
			results[i] = r
			done <- i
		}(i, a)
	}
	for range actions {
		<-done
	}
	return results
}

// costOf assigns a fatigue cost per action. Every dispatch costs a flat 1
// unit against the shared budget; spec.md leaves per-tool cost weighting
// unspecified, so a uniform cost is the safest default.
func costOf(a Action) float64 {
	return 1.0
}

func demoteIfNeeded(reg *Registry, toolErrors map[string]int, tool string) bool {
	if toolErrors[tool] > ToolErrorDemoteAt {
		reg.Remove(tool)
		return true
	}
	return false
}
