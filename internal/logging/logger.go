// Package logging wires process-wide structured logging. It keeps the
// subsystem-tagged call shape the rest of this codebase was written
// against while backing it with zerolog instead of bare log.Printf, the
// way the pack's long-running daemons (e.g. intelligencedev-manifold's
// cmd/agentd) set up their logger before anything else runs.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

var base zerolog.Logger

func init() {
	level := zerolog.InfoLevel
	if lvl, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("LOG_LEVEL"))); err == nil {
		level = lvl
	}
	zerolog.SetGlobalLevel(level)
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}).
		With().Timestamp().Logger()
}

// For returns a logger tagged with the given subsystem, e.g. "act", "router".
func For(subsystem string) zerolog.Logger {
	return base.With().Str("subsystem", subsystem).Logger()
}

// Truncate shortens s to maxLen runes for one-line log fields.
func Truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
