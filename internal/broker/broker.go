// Package broker fans named events out to every connected Server-Sent-Events client.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// DefaultHeartbeat is how often an idle stream gets a comment to keep proxies from closing it.
	DefaultHeartbeat = 15 * time.Second

	defaultBuffer = 16
)

// Event is one message on the stream.
type Event struct {
	Name string
	Data json.RawMessage
}

// NewEvent marshals v as the data of an event called name.
func NewEvent(name string, v any) (Event, error) {
	byts, err := json.Marshal(v)
	if err != nil {
		return Event{}, fmt.Errorf("error encoding %s event: %w", name, err)
	}
	return Event{Name: name, Data: byts}, nil
}

// Broker is an in-process pub/sub for SSE clients.
//
// The zero value is ready to use.
type Broker struct {
	// Heartbeat defaults to [DefaultHeartbeat].
	Heartbeat time.Duration
	// Buffer is how many events a subscriber can fall behind before events
	// are dropped for it.
	Buffer int
	// Greeting, when set, picks the events every new stream starts with.
	Greeting func(ctx context.Context) []Event

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// must be called once the subscriber is done.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	size := b.Buffer
	if size <= 0 {
		size = defaultBuffer
	}
	ch := make(chan Event, size)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan Event]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers is the number of live subscriptions.
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Publish marshals v and hands it to every subscriber without blocking:
// a subscriber whose buffer is full misses the event.
func (b *Broker) Publish(ctx context.Context, name string, v any) error {
	ev, err := NewEvent(name, v)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		slog.WarnContext(ctx, "dropped event for slow subscribers", "event", name, "dropped", dropped)
	}

	return nil
}

func (b *Broker) heartbeat() time.Duration {
	if b.Heartbeat <= 0 {
		return DefaultHeartbeat
	}
	return b.Heartbeat
}

// ServeHTTP streams events to the client until it goes away.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var (
		ctx = r.Context()
		rc  = http.NewResponseController(w)
	)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.ErrorContext(ctx, "response writer doesn't support flushing", "error", err)
		return
	}

	// Subscribe before greeting so nothing published in between is missed.
	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	slog.InfoContext(ctx, "event stream opened", "subscribers", b.Subscribers())
	defer slog.InfoContext(ctx, "event stream closed")

	if b.Greeting != nil {
		for _, ev := range b.Greeting(ctx) {
			if err := writeEvent(w, rc, ev); err != nil {
				return
			}
		}
	}

	ticker := time.NewTicker(b.heartbeat())
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			if err := writeEvent(w, rc, ev); err != nil {
				slog.InfoContext(ctx, "client disconnected", "error", err)
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				slog.InfoContext(ctx, "client disconnected during heartbeat", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, ev Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data); err != nil {
		return err
	}
	return rc.Flush()
}
