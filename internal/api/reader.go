package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	readability "github.com/go-shiori/go-readability"
	"github.com/sym01/htmlsanitizer"

	rsserrs "github.com/jdholdren/rssmd/internal/errors"
	"github.com/jdholdren/rssmd/internal/serverutil"
)

type ReaderResp struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	SiteName string `json:"siteName"`
	Excerpt  string `json:"excerpt"`
	Content  string `json:"content"`
}

// Fetches the article an item links to and strips it down for reading.
func (s Server) getReader(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx    = r.Context()
		rawURL = r.URL.Query().Get("url")
	)
	if rawURL == "" {
		return rsserrs.E("url is required", http.StatusBadRequest)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return rsserrs.E("url must be an http or https url", http.StatusBadRequest)
	}

	// Cache results for less processing and prevent refetches
	if resp, ok := s.readerRespCache.Get(u.String()); ok {
		return serverutil.WriteJSON(w, http.StatusOK, resp)
	}

	// Fetch the actual site
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("error creating request: %s", err)
	}
	resp, err := s.fetchClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "error fetching article", "error", err)
		return rsserrs.E("error fetching article", http.StatusBadGateway)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rsserrs.E(fmt.Sprintf("article responded with status %d", resp.StatusCode), http.StatusBadGateway)
	}

	// Strip it for readability and sanitize
	parser := readability.NewParser()
	article, err := parser.Parse(resp.Body, u)
	if err != nil {
		return rsserrs.E(fmt.Errorf("error extracting article: %w", err), http.StatusUnprocessableEntity)
	}

	sanitizer := htmlsanitizer.NewHTMLSanitizer()
	contents, err := sanitizer.SanitizeString(article.Content)
	if err != nil {
		return fmt.Errorf("error sanitizing article: %s", err)
	}

	ret := ReaderResp{
		URL:      u.String(),
		Title:    article.Title,
		Byline:   article.Byline,
		SiteName: article.SiteName,
		Excerpt:  article.Excerpt,
		Content:  contents,
	}
	// Add to the cache for next time
	s.readerRespCache.Add(ret.URL, ret)

	return serverutil.WriteJSON(w, http.StatusOK, ret)
}
