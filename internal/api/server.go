// Package api serves the aggregated feeds: the html page, the json api,
// the event stream and the reader view.
package api

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jdholdren/rssmd/internal/refresh"
	"github.com/jdholdren/rssmd/internal/serverutil"
)

type (
	// Snapshots is what the handlers need from the snapshot holder.
	Snapshots interface {
		Current() (refresh.Snapshot, bool)
		Refresh(ctx context.Context) (refresh.Snapshot, error)
		Trigger()
	}

	// Server serves the page, the api and the event stream.
	Server struct {
		*http.Server

		snapshots Snapshots
		links     refresh.Links
		events    http.Handler
		index     *template.Template

		fetchClient     *http.Client
		readerRespCache *lru.Cache[string, ReaderResp]
	}

	// ServerConfig holds what the server needs from the environment.
	ServerConfig struct {
		Port       int
		CorsOrigin string
	}
)

func NewServer(config ServerConfig, snapshots Snapshots, links refresh.Links, events http.Handler) *Server {
	var (
		r        = serverutil.ErrRouter{Router: mux.NewRouter()}
		cache, _ = lru.New[string, ReaderResp](256)
	)

	srvr := Server{
		snapshots: snapshots,
		links:     links,
		events:    events,
		index:     indexTemplate,
		fetchClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		readerRespCache: cache,
		Server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       5 * time.Second,
			// No write timeout: the event stream stays open.
			Handler: handlers.CORS(
				handlers.AllowedOrigins([]string{config.CorsOrigin}),
				handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
				handlers.AllowedHeaders([]string{"content-type"}),
			)(r),
		},
	}

	r.Use(serverutil.AccessLogMiddleware) // Log everything
	r.Use(compressMiddleware)

	// The page
	r.HandleFuncE("/", srvr.getIndex).Methods(http.MethodGet)

	// Snapshot and refreshing
	r.HandleFuncE("/api/rss", srvr.getRSS).Methods(http.MethodGet)
	r.HandleFuncE("/api/refresh", srvr.getRefresh).Methods(http.MethodGet)
	r.HandleFuncE("/api/markdown", srvr.getMarkdown).Methods(http.MethodGet)
	r.Handle(eventsPath, srvr.events).Methods(http.MethodGet)

	// Managing which feeds get fetched
	r.HandleFuncE("/api/rss-links", srvr.getRSSLinks).Methods(http.MethodGet)
	r.HandleFuncE("/api/update-rss", srvr.postUpdateRSS).Methods(http.MethodPost)

	// Reader view
	r.HandleFuncE("/api/reader", srvr.getReader).Methods(http.MethodGet)

	slog.Debug("configured server", "port", config.Port)

	return &srvr
}

const eventsPath = "/api/events"

// Compresses every response except the event stream, which has to reach the
// client as each event is flushed.
func compressMiddleware(next http.Handler) http.Handler {
	compressed := handlers.CompressHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == eventsPath {
			next.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}
