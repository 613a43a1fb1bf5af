// Package stream is the per-user SSE outlet (spec.md §4.10): one HTTP
// handler subscribes the caller to their bus stream key and relays every
// published event down the connection as a server-sent event until the
// client disconnects.
//
// Grounded on intelligencedev-manifold's internal/agentd/handlers_chat.go
// streaming handler (text/event-stream headers, http.Flusher, "event: ...\n
// data: ...\n\n" framing) — no pack example reaches for a dedicated SSE
// library, so this stays on net/http directly, in the teacher's
// stdlib-ServeMux style (memory-service/cmd/memory-service/main.go).
package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cogloop/core/internal/bus"
	"github.com/cogloop/core/internal/logging"
)

// keepaliveInterval is how often a comment line is sent to hold the
// connection open through idle proxies.
const keepaliveInterval = 15 * time.Second

// Outlet serves the per-user event stream.
type Outlet struct {
	bus *bus.Bus
}

func New(b *bus.Bus) *Outlet {
	return &Outlet{bus: b}
}

// userIDFunc extracts the authenticated user id from a request; supplied by
// the caller's auth middleware rather than assumed here.
type userIDFunc func(*http.Request) (string, error)

// Handler returns an http.HandlerFunc suitable for mux.HandleFunc("GET
// /stream", ...); userID resolves the caller's identity per request.
func (o *Outlet) Handler(userID userIDFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := userID(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		ctx := r.Context()
		sub, err := o.bus.Subscribe(ctx, bus.StreamKey(id))
		if err != nil {
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
			return
		}
		defer sub.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		l := logging.For("stream.outlet")
		seen := make(map[string]struct{}, 64)
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case ev, ok := <-sub.Events():
				if !ok {
					return
				}
				if ev.OutputID != "" {
					if _, dup := seen[ev.OutputID]; dup {
						continue
					}
					seen[ev.OutputID] = struct{}{}
				}
				data, err := json.Marshal(ev)
				if err != nil {
					l.Warn().Err(err).Msg("marshal event for stream")
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
