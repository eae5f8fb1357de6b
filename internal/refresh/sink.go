package refresh

import (
	"context"
	"time"

	"github.com/jdholdren/rssmd/internal/ingest"
	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Event names as the browser listens for them.
const (
	EventDataUpdated   = "dataUpdated"
	EventSourceUpdated = "sourceUpdated"
	EventSourceError   = "sourceError"
	EventFetchError    = "fetchError"
)

// Publisher sends a named event to whoever is listening.
type Publisher interface {
	Publish(ctx context.Context, name string, v any) error
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, string, any) error { return nil }

// SourceUpdatedPayload is what listeners get after each successful feed.
type SourceUpdatedPayload struct {
	Items     []rssmd.FeedItem `json:"items"`
	Source    string           `json:"source"`
	FetchTime time.Time        `json:"fetchTime"`
	RSSLinks  []string         `json:"rssLinks"`
}

// FetchErrorPayload is sent when a whole cycle could not run.
type FetchErrorPayload struct {
	Message string `json:"message"`
}

// Relays a cycle's progress to a publisher, sorted and formatted as a page
// would show it.
type publishSink struct {
	pub   Publisher
	now   func() time.Time
	links []string
}

var _ rssmd.EventSink = publishSink{}

func (s publishSink) SourceUpdated(ctx context.Context, ev rssmd.SourceUpdatedEvent) error {
	finalized := ingest.Finalize(rssmd.CycleResult{Items: ev.Items})
	return s.pub.Publish(ctx, EventSourceUpdated, SourceUpdatedPayload{
		Items:     finalized.Items,
		Source:    ev.SourceURL,
		FetchTime: s.now(),
		RSSLinks:  s.links,
	})
}

func (s publishSink) SourceError(ctx context.Context, ev rssmd.SourceErrorEvent) error {
	return s.pub.Publish(ctx, EventSourceError, ev)
}
