package ingest

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jdholdren/rssmd/internal/logger"
	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Runner runs fetch cycles over a list of feed URLs.
//
// The zero value is usable: it fetches one feed at a time with [DefaultTimeout].
type Runner struct {
	Client      *http.Client
	Timeout     time.Duration
	Concurrency int

	// Now stamps items without a usable date and the cycle's fetch time.
	Now func() time.Time
	// Rewriter defaults to [Paragraphs].
	Rewriter BodyRewriter
}

func (r Runner) client() *http.Client {
	if r.Client == nil {
		return syncClient
	}
	return r.Client
}

func (r Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func (r Runner) rewriter() BodyRewriter {
	if r.Rewriter == nil {
		return Paragraphs{}
	}
	return r.Rewriter
}

func (r Runner) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Run attempts every url exactly once and returns what was collected.
//
// Each completed feed is reported to sink right away: successes carry a copy of
// every item gathered so far in the cycle, failures carry the classified message.
// One feed failing never stops the others, and errors from the sink are only
// logged. Items come back unsorted; see [Finalize].
//
// Once ctx is done no further feeds are started and the partial result is
// returned along with the context's error.
func (r Runner) Run(ctx context.Context, urls []string, sink rssmd.EventSink) (rssmd.CycleResult, error) {
	if len(urls) == 0 {
		return rssmd.CycleResult{}, rssmd.ErrNoFeeds
	}
	if sink == nil {
		sink = rssmd.DiscardSink{}
	}

	var (
		mu       sync.Mutex
		items    = []rssmd.FeedItem{}
		fetchErr = []rssmd.FetchError{}
		start    = time.Now()
		stopErr  error

		// Plain group: a failing feed must not cancel its siblings.
		g errgroup.Group
	)
	g.SetLimit(max(r.Concurrency, 1))

	slog.InfoContext(ctx, "starting fetch cycle", "feeds", len(urls))

	for _, feedURL := range urls {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		g.Go(func() error {
			fctx := logger.Ctx(ctx, slog.String("feed_url", feedURL))
			slog.DebugContext(fctx, "fetching feed")

			channel, err := fetchFeed(fctx, r.client(), r.timeout(), feedURL)
			if err != nil {
				fe := classify(feedURL, err)
				slog.ErrorContext(fctx, "error fetching feed", "kind", fe.Kind, "error", err)

				mu.Lock()
				defer mu.Unlock()

				fetchErr = append(fetchErr, fe)
				if err := sink.SourceError(fctx, rssmd.SourceErrorEvent{
					SourceURL: fe.SourceURL,
					Message:   fe.Message,
				}); err != nil {
					slog.WarnContext(fctx, "error delivering source error", "error", err)
				}

				return nil
			}

			now := r.now()
			fresh := make([]rssmd.FeedItem, 0, len(channel.Items))
			for _, it := range channel.Items {
				fresh = append(fresh, NormalizeWith(it, now, r.rewriter()))
			}
			slog.InfoContext(fctx, "fetched feed", "title", channel.Title, "items", len(fresh))

			mu.Lock()
			defer mu.Unlock()

			items = append(items, fresh...)
			if err := sink.SourceUpdated(fctx, rssmd.SourceUpdatedEvent{
				Items:     slices.Clone(items),
				SourceURL: feedURL,
			}); err != nil {
				slog.WarnContext(fctx, "error delivering source update", "error", err)
			}

			return nil
		})
	}

	// Workers never return errors.
	_ = g.Wait()

	slog.InfoContext(ctx, "finished fetch cycle",
		"items", len(items),
		"failed_feeds", len(fetchErr),
		"duration", time.Since(start),
	)

	return rssmd.CycleResult{
		Items:     items,
		Errors:    fetchErr,
		FetchTime: r.now(),
	}, stopErr
}
