// Package bus is the process-wide pub/sub fan-out (spec.md §4.1, §4.10):
// a publisher fans an event out to every subscriber registered on a stream
// key (e.g. "user:<id>:events"); on publisher failure the message is simply
// dropped, never persisted. Ordering is preserved within a single key.
//
// Grounded on ODSapper-CLIAIRMONITOR's internal/nats client, which wraps
// nats.go the same way: one connection, subjects keyed by a caller-supplied
// string, Subscribe returning a cancellable handle.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/cogloop/core/internal/cogerr"
	"github.com/cogloop/core/internal/logging"
)

// Event is the wire shape published on a stream key.
type Event struct {
	Type       string         `json:"type"`
	Content    string         `json:"content,omitempty"`
	Topic      string         `json:"topic,omitempty"`
	ExchangeID string         `json:"exchange_id,omitempty"`
	OutputID   string         `json:"output_id,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Bus is a thin wrapper over a NATS core connection providing key-scoped
// pub/sub fan-out.
type Bus struct {
	nc *nats.Conn
}

// Connect dials the NATS server at url.
func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url, nats.Name("cogloop-bus"))
	if err != nil {
		return nil, cogerr.Transientf("bus.Connect", "connect nats: %w", err)
	}
	return &Bus{nc: nc}, nil
}

// Close drains and closes the underlying connection.
func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
	}
}

func subject(key string) string {
	// NATS subjects can't contain ':' segments safely in all deployments;
	// normalize the colon-delimited stream key into dot-delimited tokens.
	out := make([]byte, 0, len(key))
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			out = append(out, '.')
		} else {
			out = append(out, key[i])
		}
	}
	return "cogloop." + string(out)
}

// Publish fans event out to every current subscriber of key. Fails only on
// bus shutdown (a closed connection); a publish with zero subscribers is not
// an error — it is simply dropped, per spec.
func (b *Bus) Publish(key string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return cogerr.Validationf("bus.Publish", "marshal event: %w", err)
	}
	if err := b.nc.Publish(subject(key), data); err != nil {
		return cogerr.Transientf("bus.Publish", "publish %s: %w", key, err)
	}
	return nil
}

// Subscription is a cancellable, restartable handle on a stream key.
type Subscription struct {
	sub    *nats.Subscription
	ch     chan Event
	cancel context.CancelFunc
}

// Subscribe registers for every event published on key after this call
// returns. The returned channel is closed when ctx is cancelled or Close is
// called.
func (b *Bus) Subscribe(ctx context.Context, key string) (*Subscription, error) {
	out := make(chan Event, 64)
	natsCh := make(chan *nats.Msg, 64)
	sub, err := b.nc.ChanSubscribe(subject(key), natsCh)
	if err != nil {
		return nil, cogerr.Transientf("bus.Subscribe", "subscribe %s: %w", key, err)
	}

	l := logging.For("bus")
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-natsCh:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal(msg.Data, &ev); err != nil {
					l.Warn().Err(err).Str("key", key).Msg("dropping malformed bus event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{sub: sub, ch: out, cancel: cancel}, nil
}

// Events returns the lazy, infinite sequence of events for this
// subscription.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close cancels the subscription early.
func (s *Subscription) Close() error {
	s.cancel()
	return nil
}

// StreamKey builds the canonical per-user stream key.
func StreamKey(userID string) string {
	return fmt.Sprintf("user:%s:events", userID)
}
