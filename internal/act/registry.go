package act

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"

	"github.com/cogloop/core/internal/cogerr"
)

// ToolCallTimeout bounds every single action dispatch (spec.md §4.6).
const ToolCallTimeout = 20 * time.Second

// Action is one planner-emitted step.
type Action struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	ParallelOK bool           `json:"-"` // set by the registry entry, not the planner
}

// Result is one dispatched action's outcome.
type Result struct {
	Action      Action
	Output      string
	Err         error
	Cancelled   bool
	Fingerprint string
}

// Tool is one registered capability the planner can invoke.
type Tool interface {
	Name() string
	// ParallelSafe reports whether concurrent dispatch of this tool is
	// safe; only explicitly parallel-safe tools run concurrently within
	// one iteration (spec.md §4.6).
	ParallelSafe() bool
	// IsSearchLike/IsActionCapable feed the router's deterministic
	// ACT-override and RESPOND-escalation signals.
	IsSearchLike() bool
	IsActionCapable() bool
	Call(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds every tool available to the ACT planner for one cycle
// (the set can vary per user/thread if integrations are scoped).
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Resolve(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *Registry) HasSearchLikeTool() bool {
	for _, t := range r.tools {
		if t.IsSearchLike() {
			return true
		}
	}
	return false
}

func (r *Registry) HasActionCapableTool() bool {
	for _, t := range r.tools {
		if t.IsActionCapable() {
			return true
		}
	}
	return false
}

// Remove demotes (unregisters) a tool, used after repeated per-tool errors
// (spec.md §4.6: "repeated(>2) errors on same tool demotes tool").
func (r *Registry) Remove(name string) { delete(r.tools, name) }

// Names lists every currently registered tool, for rendering the planner
// prompt's tool catalogue.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Fingerprint derives a stable identity for an action so the loop can dedupe
// repeated calls within visited_fingerprints. Hashed with blake3 for a
// fast, well-distributed digest over the canonicalized JSON of tool+args;
// Go's encoding/json already emits map[string]any keys in sorted order, so
// this is stable across calls without a separate canonicalization pass.
func Fingerprint(a Action) (string, error) {
	canonical := struct {
		Tool string         `json:"tool"`
		Args map[string]any `json:"args"`
	}{Tool: a.Tool, Args: a.Args}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", cogerr.Validationf("act.Fingerprint", "marshal: %w", err)
	}
	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
