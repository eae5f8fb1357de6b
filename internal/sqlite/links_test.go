package sqlite

import (
	"context"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jdholdren/rssmd/internal/migrations"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()

	dbx, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is its own database
	dbx.SetMaxOpenConns(1)
	t.Cleanup(func() { dbx.Close() })

	require.NoError(t, migrations.Run(dbx))

	return New(dbx)
}

func urlsOf(t *testing.T, r Repo) []string {
	t.Helper()

	links, err := r.FeedLinks(context.Background())
	require.NoError(t, err)

	var urls []string
	for _, l := range links {
		urls = append(urls, l.URL)
	}
	return urls
}

func TestFeedLinks_EmptyByDefault(t *testing.T) {
	r := newTestRepo(t)

	links, err := r.FeedLinks(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, links)
	assert.Empty(t, links)
}

func TestReplaceFeedLinks(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	stored, err := r.ReplaceFeedLinks(ctx, []string{"https://c.test", "https://a.test", "https://b.test"})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i, l := range stored {
		assert.Equal(t, i, l.Position)
		assert.True(t, strings.HasSuffix(l.ID, linkNamespace), "id %q", l.ID)
		assert.False(t, l.CreatedAt.IsZero())
	}
	assert.Equal(t, []string{"https://c.test", "https://a.test", "https://b.test"}, urlsOf(t, r))

	// The old list is gone entirely
	_, err = r.ReplaceFeedLinks(ctx, []string{"https://z.test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://z.test"}, urlsOf(t, r))

	// Duplicates are kept, the list is the user's
	_, err = r.ReplaceFeedLinks(ctx, []string{"https://z.test", "https://z.test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://z.test", "https://z.test"}, urlsOf(t, r))
}

func TestReplaceFeedLinks_Clear(t *testing.T) {
	var (
		ctx = context.Background()
		r   = newTestRepo(t)
	)

	_, err := r.ReplaceFeedLinks(ctx, []string{"https://a.test"})
	require.NoError(t, err)

	stored, err := r.ReplaceFeedLinks(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, urlsOf(t, r))
}
