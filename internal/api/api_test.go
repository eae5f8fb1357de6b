package api

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdholdren/rssmd/internal/refresh"
	"github.com/jdholdren/rssmd/internal/rssmd"
)

type fakeSnapshots struct {
	snap      refresh.Snapshot
	ok        bool
	refreshes atomic.Int32
	triggers  atomic.Int32
	err       error
}

func (f *fakeSnapshots) Current() (refresh.Snapshot, bool) { return f.snap, f.ok }

func (f *fakeSnapshots) Refresh(context.Context) (refresh.Snapshot, error) {
	f.refreshes.Add(1)
	if f.err != nil {
		return refresh.Snapshot{}, f.err
	}
	f.ok = true
	return f.snap, nil
}

func (f *fakeSnapshots) Trigger() { f.triggers.Add(1) }

type memRepo struct {
	links []rssmd.FeedLink
}

func (m *memRepo) FeedLinks(context.Context) ([]rssmd.FeedLink, error) { return m.links, nil }

func (m *memRepo) ReplaceFeedLinks(_ context.Context, urls []string) ([]rssmd.FeedLink, error) {
	m.links = nil
	for i, u := range urls {
		m.links = append(m.links, rssmd.FeedLink{URL: u, Position: i})
	}
	return m.links, nil
}

var testSnapshot = refresh.Snapshot{
	CycleResult: rssmd.CycleResult{
		Items: []rssmd.FeedItem{
			{
				Title:         "Hello",
				Link:          "https://a.test/hello",
				Content:       `<p>Hi <b>there</b></p><script>alert(1)</script>`,
				PublishedAt:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
				FormattedDate: "2024年1月1日 20:00:00",
			},
		},
		Errors: []rssmd.FetchError{
			{SourceURL: "https://down.test", Message: "获取RSS源超时: https://down.test", Kind: rssmd.ErrorKindTimeout},
		},
		FetchTime: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	},
	RSSLinks: []string{"https://a.test/feed", "https://down.test"},
}

func newTestServer(t *testing.T, snaps *fakeSnapshots) (*Server, *memRepo) {
	t.Helper()

	repo := &memRepo{}
	links := refresh.Links{Repo: repo, Defaults: []string{"https://default.test/feed"}}
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return NewServer(ServerConfig{Port: 0, CorsOrigin: "*"}, snaps, links, events), repo
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, req)
	return rec
}

func TestCompression(t *testing.T) {
	s, _ := newTestServer(t, &fakeSnapshots{snap: testSnapshot, ok: true})

	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set("Accept-Encoding", "gzip")
		rec := httptest.NewRecorder()
		s.Handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("api responses are gzipped", func(t *testing.T) {
		rec := get("/api/rss")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, json.NewDecoder(zr).Decode(&got))
		assert.Contains(t, got, "items")
	})

	t.Run("the event stream is left alone", func(t *testing.T) {
		rec := get("/api/events")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Empty(t, rec.Header().Get("Content-Encoding"))
	})
}

func TestGetRSS(t *testing.T) {
	t.Run("before any cycle", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeSnapshots{})

		rec := do(t, s, http.MethodGet, "/api/rss", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, []any{"https://default.test/feed"}, got["rssLinks"])
	})

	t.Run("with a snapshot", func(t *testing.T) {
		s, _ := newTestServer(t, &fakeSnapshots{snap: testSnapshot, ok: true})

		rec := do(t, s, http.MethodGet, "/api/rss", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got struct {
			Items     []rssmd.FeedItem   `json:"items"`
			Errors    []rssmd.FetchError `json:"errors"`
			FetchTime time.Time          `json:"fetchTime"`
			RSSLinks  []string           `json:"rssLinks"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, testSnapshot.Items, got.Items)
		assert.Equal(t, testSnapshot.Errors, got.Errors)
		assert.True(t, testSnapshot.FetchTime.Equal(got.FetchTime))
		assert.Equal(t, testSnapshot.RSSLinks, got.RSSLinks)
	})
}

func TestGetRefresh(t *testing.T) {
	snaps := &fakeSnapshots{}
	s, _ := newTestServer(t, snaps)

	rec := do(t, s, http.MethodGet, "/api/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message": "数据刷新已开始"}`, rec.Body.String())
	assert.Equal(t, int32(1), snaps.triggers.Load())
}

func TestPostUpdateRSS(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty list", body: `{"rssLinks": []}`},
		{name: "missing list", body: `{}`},
		{name: "not a list", body: `{"rssLinks": "https://a.test"}`},
		{name: "not json", body: `rssLinks`},
		{name: "not a url", body: `{"rssLinks": ["ftp://a.test/feed", "nope"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, repo := newTestServer(t, &fakeSnapshots{})

			rec := do(t, s, http.MethodPost, "/api/update-rss", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "请提供有效的RSS链接列表")
			assert.Empty(t, repo.links)
		})
	}

	t.Run("valid list is stored", func(t *testing.T) {
		s, repo := newTestServer(t, &fakeSnapshots{})

		rec := do(t, s, http.MethodPost, "/api/update-rss", `{"rssLinks": [" https://b.test/feed ", "https://a.test/feed"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"message": "RSS链接已更新", "rssLinks": ["https://b.test/feed", "https://a.test/feed"]}`, rec.Body.String())
		assert.Len(t, repo.links, 2)

		rec = do(t, s, http.MethodGet, "/api/rss-links", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{
			"rssLinks": ["https://b.test/feed", "https://a.test/feed"],
			"defaultRssLinks": ["https://default.test/feed"]
		}`, rec.Body.String())
	})
}

func TestGetRSSLinks_Defaults(t *testing.T) {
	s, _ := newTestServer(t, &fakeSnapshots{})

	rec := do(t, s, http.MethodGet, "/api/rss-links", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"rssLinks": ["https://default.test/feed"],
		"defaultRssLinks": ["https://default.test/feed"]
	}`, rec.Body.String())
}

func TestGetMarkdown(t *testing.T) {
	s, _ := newTestServer(t, &fakeSnapshots{snap: testSnapshot, ok: true})

	rec := do(t, s, http.MethodGet, "/api/markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/markdown; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "## Hello\nHi there\n> 原文链接：[https://a.test/hello](https://a.test/hello)\n\n", rec.Body.String())
}

func TestGetIndex(t *testing.T) {
	t.Run("runs a cycle when there's nothing yet", func(t *testing.T) {
		snaps := &fakeSnapshots{snap: testSnapshot}
		s, _ := newTestServer(t, snaps)

		rec := do(t, s, http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int32(1), snaps.refreshes.Load())

		body := rec.Body.String()
		assert.Contains(t, body, "<h2>Hello</h2>")
		assert.Contains(t, body, "<p>Hi <b>there</b></p>")
		assert.Contains(t, body, "2024年1月1日 20:00:00")
		assert.Contains(t, body, "获取RSS源超时: https://down.test")
		assert.NotContains(t, body, "alert(1)")
	})

	t.Run("uses the current snapshot", func(t *testing.T) {
		snaps := &fakeSnapshots{snap: testSnapshot, ok: true}
		s, _ := newTestServer(t, snaps)

		rec := do(t, s, http.MethodGet, "/", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int32(0), snaps.refreshes.Load())
	})

	t.Run("failed cycle", func(t *testing.T) {
		snaps := &fakeSnapshots{err: rssmd.ErrNoFeeds}
		s, _ := newTestServer(t, snaps)

		rec := do(t, s, http.MethodGet, "/", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "获取或渲染数据失败")
	})
}

const testArticle = `<!DOCTYPE html>
<html><head><title>Reader Test Article</title></head>
<body>
  <nav><a href="/">Home</a> <a href="/about">About</a></nav>
  <article>
    <h1>Reader Test Article</h1>
    <p>Aggregators are small programs that gather feeds from all over the web and put them in one place, so that a reader can skim everything without visiting every site on their own.</p>
    <p>This paragraph exists to give the extraction enough text to work with. It talks about parsing documents, walking trees of nodes and scoring the candidates by how much prose they carry compared to links.</p>
    <p>A third paragraph with the distinctive word zebracorn keeps going for a while, because extraction heuristics prefer long runs of text with commas, periods, and the occasional semicolon; that is how they tell content apart from chrome.</p>
    <script>alert("nope")</script>
  </article>
  <footer>Copyright nobody</footer>
</body></html>`

func TestGetReader(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(testArticle))
	}))
	defer upstream.Close()

	s, _ := newTestServer(t, &fakeSnapshots{})

	t.Run("missing url", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/reader", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "url is required")
	})

	t.Run("not http", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/reader?url=file:///etc/passwd", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("upstream failure", func(t *testing.T) {
		rec := do(t, s, http.MethodGet, "/api/reader?url="+upstream.URL+"/missing", "")
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("article is extracted and cached", func(t *testing.T) {
		before := hits.Load()
		target := "/api/reader?url=" + upstream.URL + "/post"

		rec := do(t, s, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)

		var got ReaderResp
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, upstream.URL+"/post", got.URL)
		assert.Contains(t, got.Content, "zebracorn")
		assert.NotContains(t, got.Content, "alert")

		rec = do(t, s, http.MethodGet, target, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, before+1, hits.Load())
	})
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, &fakeSnapshots{})

	rec := do(t, s, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

