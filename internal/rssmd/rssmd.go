// Package rssmd holds the types shared by the ingestion pipeline, the snapshot
// holder and the web layer.
package rssmd

import (
	"context"
	"errors"
	"time"
)

// ErrNoFeeds is returned when a cycle is started without any feed URLs.
var ErrNoFeeds = errors.New("no feed urls to fetch")

type (
	// FeedItem is one normalized entry from any feed.
	FeedItem struct {
		Title       string    `json:"title"`
		Link        string    `json:"link"`
		Description string    `json:"description"`
		Content     string    `json:"content"`
		PublishedAt time.Time `json:"publishedAt"`

		// Only filled in when a result is finalized.
		FormattedDate string `json:"formattedDate,omitempty"`
	}

	// FetchError is a single failed attempt at one feed URL.
	FetchError struct {
		SourceURL string    `json:"sourceUrl"`
		Message   string    `json:"message"`
		Kind      ErrorKind `json:"kind"`
	}

	// CycleResult is the outcome of one pass over the feed URL list.
	CycleResult struct {
		Items     []FeedItem   `json:"items"`
		Errors    []FetchError `json:"errors"`
		FetchTime time.Time    `json:"fetchTime"`
	}
)

// ErrorKind classifies why fetching a feed failed.
type ErrorKind string

const (
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindHTTP    ErrorKind = "http"
	ErrorKindNetwork ErrorKind = "network"
	ErrorKindOther   ErrorKind = "other"
)

type (
	// SourceUpdatedEvent carries the cumulative items of a cycle after one more
	// feed completed.
	SourceUpdatedEvent struct {
		Items     []FeedItem `json:"items"`
		SourceURL string     `json:"source"`
	}

	// SourceErrorEvent is emitted when a feed in a cycle fails.
	SourceErrorEvent struct {
		SourceURL string `json:"url"`
		Message   string `json:"message"`
	}

	// EventSink receives the incremental events of a cycle as each feed completes.
	EventSink interface {
		SourceUpdated(ctx context.Context, ev SourceUpdatedEvent) error
		SourceError(ctx context.Context, ev SourceErrorEvent) error
	}
)

// DiscardSink drops every event.
type DiscardSink struct{}

func (DiscardSink) SourceUpdated(context.Context, SourceUpdatedEvent) error { return nil }
func (DiscardSink) SourceError(context.Context, SourceErrorEvent) error     { return nil }

type (
	// FeedLink is one entry of the user supplied override list of feed URLs.
	FeedLink struct {
		ID        string    `db:"id"`
		URL       string    `db:"url"`
		Position  int       `db:"position"`
		CreatedAt time.Time `db:"created_at"`
	}

	FeedLinkRepo interface {
		// FeedLinks returns the stored override list in the order it was saved.
		FeedLinks(ctx context.Context) ([]FeedLink, error)
		// ReplaceFeedLinks swaps the whole override list for urls.
		ReplaceFeedLinks(ctx context.Context, urls []string) ([]FeedLink, error)
	}
)
