// Package journal is the append-only observability log regulators read
// pressure signals from (spec.md §4.8: "Other monitors only log pressure;
// they do not mutate"). Grounded on the teacher's internal/journal, kept as
// a JSONL-per-line writer but narrowed from the teacher's general
// decision/impulse/reflex taxonomy to the pressure-signal entry this
// codebase actually produces and consumes.
package journal

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cogloop/core/internal/cogerr"
)

// EntryType identifies what kind of journal entry this is.
type EntryType string

const (
	// EntryPressure is a monitor's observation that a router weight or
	// boundary parameter should move, logged continuously but consumed only
	// by that parameter's single-writer regulator on its own cycle.
	EntryPressure EntryType = "pressure"
)

// Entry is one journal line.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	Type      EntryType      `json:"type"`
	Key       string         `json:"key"`               // weight or param name under pressure
	Delta     float64        `json:"delta"`              // signed nudge this entry contributes
	Source    string         `json:"source"`             // monitor that logged it
	Data      map[string]any `json:"data,omitempty"`
}

// Journal appends entries to path, one JSON object per line.
type Journal struct {
	path string
	mu   sync.Mutex
}

func New(statePath string) *Journal {
	return &Journal{path: filepath.Join(statePath, "journal.jsonl")}
}

// Log appends one entry, stamping Timestamp if unset.
func (j *Journal) Log(entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return cogerr.Transientf("journal.Log", "open: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return cogerr.Validationf("journal.Log", "marshal: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return cogerr.Transientf("journal.Log", "write: %w", err)
	}
	return nil
}

// LogPressure is the monitor-facing entry point: a single weighted nudge
// toward adjusting key, attributed to source.
func (j *Journal) LogPressure(key string, delta float64, source string) error {
	return j.Log(Entry{Type: EntryPressure, Key: key, Delta: delta, Source: source})
}

// Since returns every entry logged at or after cutoff, oldest first.
func (j *Journal) Since(cutoff time.Time) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cogerr.Transientf("journal.Since", "open: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed entries
		}
		if !e.Timestamp.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}

// PressureSince aggregates every pressure entry for key since cutoff into
// one signed total, the regulator's input for "per-weight pressure signal".
func (j *Journal) PressureSince(key string, cutoff time.Time) (float64, error) {
	entries, err := j.Since(cutoff)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range entries {
		if e.Type == EntryPressure && e.Key == key {
			total += e.Delta
		}
	}
	return total, nil
}

// Keys returns the distinct pressure keys logged since cutoff, so a
// regulator can discover which weights have pending pressure without
// knowing the full key space up front.
func (j *Journal) Keys(cutoff time.Time) ([]string, error) {
	entries, err := j.Since(cutoff)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var keys []string
	for _, e := range entries {
		if e.Type != EntryPressure {
			continue
		}
		if _, ok := seen[e.Key]; !ok {
			seen[e.Key] = struct{}{}
			keys = append(keys, e.Key)
		}
	}
	return keys, nil
}
