package refresh

import (
	"context"
	"fmt"
	"slices"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Links decides which feeds a cycle fetches: the stored override list when
// there is one, the configured defaults otherwise.
type Links struct {
	Repo     rssmd.FeedLinkRepo
	Defaults []string
}

// Current returns the urls the next cycle should fetch.
func (l Links) Current(ctx context.Context) ([]string, error) {
	if l.Repo == nil {
		return slices.Clone(l.Defaults), nil
	}

	stored, err := l.Repo.FeedLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("error fetching feed links: %w", err)
	}
	if len(stored) == 0 {
		return slices.Clone(l.Defaults), nil
	}

	urls := make([]string, 0, len(stored))
	for _, link := range stored {
		urls = append(urls, link.URL)
	}
	return urls, nil
}

// Replace stores urls as the new override list and returns what was stored.
func (l Links) Replace(ctx context.Context, urls []string) ([]string, error) {
	if l.Repo == nil {
		return nil, fmt.Errorf("no repo to store feed links in")
	}

	stored, err := l.Repo.ReplaceFeedLinks(ctx, urls)
	if err != nil {
		return nil, fmt.Errorf("error replacing feed links: %w", err)
	}

	ret := make([]string, 0, len(stored))
	for _, link := range stored {
		ret = append(ret, link.URL)
	}
	return ret, nil
}
