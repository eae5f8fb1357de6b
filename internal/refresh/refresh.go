// Package refresh owns the most recent aggregation snapshot.
//
// A [Refresher] is the only thing that writes the snapshot. Cycles are shared:
// any refresh asked for while one is running joins it instead of starting another.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jdholdren/rssmd/internal/ingest"
	"github.com/jdholdren/rssmd/internal/logger"
	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Snapshot is a finalized cycle result plus the feeds it was fetched from.
type Snapshot struct {
	rssmd.CycleResult
	RSSLinks []string `json:"rssLinks"`
}

// Fetcher runs one cycle over urls. [ingest.Runner] is the real one.
type Fetcher interface {
	Run(ctx context.Context, urls []string, sink rssmd.EventSink) (rssmd.CycleResult, error)
}

type Refresher struct {
	base    context.Context // cycles run on this rather than the caller's context
	fetcher Fetcher
	links   Links
	pub     Publisher
	now     func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	current Snapshot
	hasRun  bool
}

// New creates a refresher whose cycles live as long as base.
// A nil pub discards every event.
func New(base context.Context, fetcher Fetcher, links Links, pub Publisher) *Refresher {
	if pub == nil {
		pub = noopPublisher{}
	}
	return &Refresher{
		base:    base,
		fetcher: fetcher,
		links:   links,
		pub:     pub,
		now:     time.Now,
		current: Snapshot{
			CycleResult: rssmd.CycleResult{
				Items:  []rssmd.FeedItem{},
				Errors: []rssmd.FetchError{},
			},
		},
	}
}

// Current returns the latest snapshot and whether any cycle has completed yet.
func (r *Refresher) Current() (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.current), r.hasRun
}

// Refresh runs a cycle, or joins the one already running, and waits for it.
//
// ctx only bounds the wait: the cycle itself keeps going if ctx is done first.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	ch := r.group.DoChan("cycle", func() (any, error) {
		return r.cycle(r.base)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return cloneSnapshot(res.Val.(Snapshot)), nil
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Trigger starts a refresh in the background and returns right away.
func (r *Refresher) Trigger() {
	go func() {
		if _, err := r.Refresh(r.base); err != nil {
			slog.ErrorContext(r.base, "error refreshing in the background", "error", err)
		}
	}()
}

// Run refreshes right away and then every interval until ctx is done.
func (r *Refresher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "error refreshing on schedule", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *Refresher) cycle(ctx context.Context) (Snapshot, error) {
	ctx = logger.Ctx(ctx, slog.String("cycle_id", r.now().Format("20060102T150405.000")))

	urls, err := r.links.Current(ctx)
	if err != nil {
		r.fetchFailed(ctx, err)
		return Snapshot{}, err
	}

	res, err := r.fetcher.Run(ctx, urls, publishSink{pub: r.pub, now: r.now, links: urls})
	if err != nil {
		r.fetchFailed(ctx, err)
		return Snapshot{}, fmt.Errorf("error running cycle: %w", err)
	}

	snap := Snapshot{
		CycleResult: ingest.Finalize(res),
		RSSLinks:    urls,
	}

	r.mu.Lock()
	r.current = snap
	r.hasRun = true
	r.mu.Unlock()

	if err := r.pub.Publish(ctx, EventDataUpdated, snap); err != nil {
		slog.WarnContext(ctx, "error publishing snapshot", "error", err)
	}
	slog.InfoContext(ctx, "snapshot updated", "items", len(snap.Items), "errors", len(snap.Errors))

	return snap, nil
}

func (r *Refresher) fetchFailed(ctx context.Context, err error) {
	slog.ErrorContext(ctx, "error fetching feeds", "error", err)
	if pubErr := r.pub.Publish(ctx, EventFetchError, FetchErrorPayload{
		Message: "获取RSS数据失败: " + err.Error(),
	}); pubErr != nil {
		slog.WarnContext(ctx, "error publishing fetch error", "error", pubErr)
	}
}

// Callers get their own slices so nothing they do leaks into the shared snapshot.
func cloneSnapshot(s Snapshot) Snapshot {
	s.Items = slices.Clone(s.Items)
	s.Errors = slices.Clone(s.Errors)
	s.RSSLinks = slices.Clone(s.RSSLinks)
	return s
}
