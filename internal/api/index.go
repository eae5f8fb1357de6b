package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/microcosm-cc/bluemonday"

	rsserrs "github.com/jdholdren/rssmd/internal/errors"
	"github.com/jdholdren/rssmd/internal/ingest"
	"github.com/jdholdren/rssmd/internal/markdown"
	"github.com/jdholdren/rssmd/internal/refresh"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Feed content is whatever the publisher sent, it only reaches the page through this.
var ugc = bluemonday.UGCPolicy()

var indexTemplate = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"content": func(s string) template.HTML {
		return template.HTML(ugc.Sanitize(s))
	},
	"markdown":   markdown.Item,
	"formatTime": ingest.FormatDate,
}).ParseFS(templatesFS, "templates/index.html"))

func (s Server) getIndex(w http.ResponseWriter, r *http.Request) error {
	snap, ok := s.snapshots.Current()
	if !ok {
		// Nothing fetched yet, so wait on a cycle before rendering
		var err error
		snap, err = s.snapshots.Refresh(r.Context())
		if err != nil {
			return rsserrs.E(fmt.Errorf("获取或渲染数据失败: %w", err), http.StatusInternalServerError)
		}
	}

	return s.render(w, snap)
}

func (s Server) render(w http.ResponseWriter, snap refresh.Snapshot) error {
	// Render fully first so a template failure can still become a json error
	var buf bytes.Buffer
	if err := s.index.Execute(&buf, snap); err != nil {
		return fmt.Errorf("error rendering index: %s", err)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("error writing index: %s", err)
	}

	return nil
}
