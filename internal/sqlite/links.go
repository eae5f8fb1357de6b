package sqlite

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

const linkNamespace = "-lnk"

// FeedLinks returns the stored links in the order they were saved.
func (r Repo) FeedLinks(ctx context.Context) ([]rssmd.FeedLink, error) {
	const q = `SELECT * FROM feed_links ORDER BY position;`

	links := []rssmd.FeedLink{}
	if err := r.db.SelectContext(ctx, &links, q); err != nil {
		return nil, fmt.Errorf("error selecting feed links: %s", err)
	}

	return links, nil
}

// ReplaceFeedLinks drops the stored list and saves urls in its place, all or nothing.
func (r Repo) ReplaceFeedLinks(ctx context.Context, urls []string) ([]rssmd.FeedLink, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("error starting transaction: %s", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM feed_links;`); err != nil {
		return nil, fmt.Errorf("error clearing feed links: %s", err)
	}

	if len(urls) > 0 {
		ins := sq.Insert("feed_links").Columns("id", "url", "position")
		for i, u := range urls {
			ins = ins.Values(fmt.Sprintf("%s%s", uuid.NewString(), linkNamespace), u, i)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return nil, fmt.Errorf("error constructing sql: %s", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("error inserting feed links: %s", err)
		}
	}

	links := []rssmd.FeedLink{}
	if err := tx.SelectContext(ctx, &links, `SELECT * FROM feed_links ORDER BY position;`); err != nil {
		return nil, fmt.Errorf("error selecting feed links: %s", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing feed links: %s", err)
	}

	return links, nil
}
