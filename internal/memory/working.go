// Package memory composes the persistent (internal/store/postgres) and
// ephemeral (internal/store/ephemeral) tiers into the narrow, layer-specific
// contracts spec.md §4.2 describes: working memory, gists, facts, episodes,
// concepts, traits, and moments each get their own small API instead of one
// god object, mirroring the teacher's split between internal/focus (working
// attention) and internal/graph (durable memory).
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/store/ephemeral"
	"github.com/cogloop/core/internal/types"
)

// dedupWindow is how close in time two gists/facts with identical content
// must be to merge into one record carrying the higher confidence (spec.md
// §4.2: "duplicate merge (same content within 5 min merges with max
// confidence)").
const dedupWindow = 5 * time.Minute

// Working is the ring-buffer working memory layer: the last N turns of a
// thread, held entirely in the ephemeral store.
type Working struct {
	eph *ephemeral.Store
}

func NewWorking(eph *ephemeral.Store) *Working { return &Working{eph: eph} }

// Append records a turn, trimming the ring buffer to its cap.
func (w *Working) Append(ctx context.Context, threadID string, turn types.Turn) error {
	if err := w.eph.PushWorkingTurn(ctx, threadID, turn); err != nil {
		return cogerr.Transientf("memory.Working.Append", "%w", err)
	}
	return nil
}

// Recent returns up to limit of the most recent turns, oldest first.
func (w *Working) Recent(ctx context.Context, threadID string, limit int) ([]types.Turn, error) {
	raw, err := w.eph.WorkingTurns(ctx, threadID, limit)
	if err != nil {
		return nil, cogerr.Transientf("memory.Working.Recent", "%w", err)
	}
	out := make([]types.Turn, 0, len(raw))
	for _, r := range raw {
		var t types.Turn
		if err := json.Unmarshal(r, &t); err != nil {
			return nil, cogerr.Validationf("memory.Working.Recent", "unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

// gistTTL and factTTL are the fixed lifetimes spec.md §3 assigns Gist/Fact.
const (
	gistTTL = 30 * time.Minute
	factTTL = 24 * time.Hour
)

// Gists is the ephemeral, confidence-tagged per-exchange summary layer.
type Gists struct {
	eph *ephemeral.Store
}

func NewGists(eph *ephemeral.Store) *Gists { return &Gists{eph: eph} }

// Put stores a gist with the fixed 30-minute TTL.
func (g *Gists) Put(ctx context.Context, gist *types.Gist) error {
	if err := g.eph.PutTTL(ctx, "gist:"+gist.ThreadID, gist.ID, gist, gistTTL); err != nil {
		return cogerr.Transientf("memory.Gists.Put", "%w", err)
	}
	return nil
}

// Store records a gist, first merging it into any existing gist with
// identical content created within the dedup window: the merged record
// keeps the earlier ID and the higher of the two confidences, and its TTL
// resets to a fresh 30 minutes.
func (g *Gists) Store(ctx context.Context, gist *types.Gist) error {
	existing, err := g.ForThread(ctx, gist.ThreadID)
	if err != nil {
		return err
	}
	now := gist.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	for _, e := range existing {
		if e.Content == gist.Content && now.Sub(e.CreatedAt) <= dedupWindow {
			if gist.Confidence > e.Confidence {
				e.Confidence = gist.Confidence
			}
			return g.Put(ctx, &e)
		}
	}
	return g.Put(ctx, gist)
}

// Search returns live gists for a thread whose content contains query,
// ranked by confidence, trimmed to limit. The ephemeral store has no
// full-text index, so this is a simple substring scan appropriate for the
// small (<=dozens) live-gist working set a thread accumulates in 30 minutes.
func (g *Gists) Search(ctx context.Context, threadID, query string, limit int) ([]types.Gist, error) {
	all, err := g.ForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	matched := make([]types.Gist, 0, len(all))
	for _, gist := range all {
		if q == "" || strings.Contains(strings.ToLower(gist.Content), q) {
			matched = append(matched, gist)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Confidence > matched[j].Confidence })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// ForThread returns every live gist for a thread.
func (g *Gists) ForThread(ctx context.Context, threadID string) ([]types.Gist, error) {
	ids, err := g.eph.ScanNamespace(ctx, "gist:"+threadID)
	if err != nil {
		return nil, cogerr.Transientf("memory.Gists.ForThread", "%w", err)
	}
	out := make([]types.Gist, 0, len(ids))
	for _, id := range ids {
		raw, ok, err := g.eph.GetTTL(ctx, "gist:"+threadID, id)
		if err != nil {
			return nil, cogerr.Transientf("memory.Gists.ForThread", "%w", err)
		}
		if !ok {
			continue
		}
		var gist types.Gist
		if err := json.Unmarshal(raw, &gist); err != nil {
			return nil, cogerr.Validationf("memory.Gists.ForThread", "unmarshal: %w", err)
		}
		out = append(out, gist)
	}
	return out, nil
}

// Facts is the ephemeral key->value memory layer, TTL 24h.
type Facts struct {
	eph *ephemeral.Store
}

func NewFacts(eph *ephemeral.Store) *Facts { return &Facts{eph: eph} }

// Put stores or refreshes a fact under (ThreadID, Key).
func (f *Facts) Put(ctx context.Context, fact *types.Fact) error {
	if err := f.eph.PutTTL(ctx, "fact:"+fact.ThreadID, fact.Key, fact, factTTL); err != nil {
		return cogerr.Transientf("memory.Facts.Put", "%w", err)
	}
	return nil
}

// Store records a fact, merging into an existing fact with the same key and
// value created within the dedup window by keeping the higher confidence.
func (f *Facts) Store(ctx context.Context, fact *types.Fact) error {
	existing, found, err := f.Get(ctx, fact.ThreadID, fact.Key)
	if err != nil {
		return err
	}
	now := fact.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if found && existing.Value == fact.Value && now.Sub(existing.CreatedAt) <= dedupWindow {
		if fact.Confidence > existing.Confidence {
			existing.Confidence = fact.Confidence
		}
		return f.Put(ctx, existing)
	}
	return f.Put(ctx, fact)
}

// Search returns live facts for a thread whose key or value contains query,
// ranked by confidence, trimmed to limit.
func (f *Facts) Search(ctx context.Context, threadID, query string, limit int) ([]types.Fact, error) {
	all, err := f.ForThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	matched := make([]types.Fact, 0, len(all))
	for _, fact := range all {
		if q == "" || strings.Contains(strings.ToLower(fact.Key), q) || strings.Contains(strings.ToLower(fact.Value), q) {
			matched = append(matched, fact)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Confidence > matched[j].Confidence })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Get fetches a single fact by key, found=false on miss or expiry.
func (f *Facts) Get(ctx context.Context, threadID, key string) (*types.Fact, bool, error) {
	raw, ok, err := f.eph.GetTTL(ctx, "fact:"+threadID, key)
	if err != nil {
		return nil, false, cogerr.Transientf("memory.Facts.Get", "%w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var fact types.Fact
	if err := json.Unmarshal(raw, &fact); err != nil {
		return nil, false, cogerr.Validationf("memory.Facts.Get", "unmarshal: %w", err)
	}
	return &fact, true, nil
}

// ForThread returns every live fact for a thread.
func (f *Facts) ForThread(ctx context.Context, threadID string) ([]types.Fact, error) {
	ids, err := f.eph.ScanNamespace(ctx, "fact:"+threadID)
	if err != nil {
		return nil, cogerr.Transientf("memory.Facts.ForThread", "%w", err)
	}
	out := make([]types.Fact, 0, len(ids))
	for _, id := range ids {
		fact, ok, err := f.Get(ctx, threadID, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, *fact)
		}
	}
	return out, nil
}
