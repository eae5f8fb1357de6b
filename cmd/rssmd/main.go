// Rssmd polls a list of RSS feeds and serves them as one page, a json api,
// a live event stream and markdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback" // For scratch images without a cert bundle
	_ "modernc.org/sqlite"

	"github.com/jdholdren/rssmd/internal/api"
	"github.com/jdholdren/rssmd/internal/broker"
	"github.com/jdholdren/rssmd/internal/ingest"
	"github.com/jdholdren/rssmd/internal/logger"
	"github.com/jdholdren/rssmd/internal/migrations"
	"github.com/jdholdren/rssmd/internal/refresh"
	rsssqlite "github.com/jdholdren/rssmd/internal/sqlite"
)

// Fetched until someone saves their own list.
var defaultFeedURLs = []string{
	"https://www.ruanyifeng.com/blog/atom.xml",
	"https://sspai.com/feed",
	"https://hnrss.org/frontpage",
}

type config struct {
	Port     int    `env:"PORT, default=3000"`
	Database string `env:"DATABASE, default=rssmd.db"`

	// Comma separated, replaces the built in defaults
	FeedURLs []string `env:"FEED_URLS"`

	FetchTimeout     time.Duration `env:"FETCH_TIMEOUT, default=10s"`
	FetchConcurrency int           `env:"FETCH_CONCURRENCY, default=4"`
	RefreshInterval  time.Duration `env:"REFRESH_INTERVAL, default=30m"`

	CorsOrigin string `env:"CORS_ORIGIN, default=*"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`
	Debug        bool   `env:"DEBUG, default=false"`
}

func main() {
	ctx := context.Background()

	// A .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("error loading .env: %s", err)
	}

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat, level))

	// Start the application
	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "database", cfg.Database, "refresh_interval", cfg.RefreshInterval)

	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Retry until the database file is usable
	if err := retry.Do(ctx, retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond)), func(ctx context.Context) error {
		if err := dbx.PingContext(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to database: %s", err)
	}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	defaults := defaultFeedURLs
	if len(cfg.FeedURLs) > 0 {
		defaults = cfg.FeedURLs
	}

	var (
		appCtx, cancel = context.WithCancel(ctx)
		links          = refresh.Links{Repo: rsssqlite.New(dbx), Defaults: defaults}
		events         = &broker.Broker{}
		runner         = ingest.Runner{
			Timeout:     cfg.FetchTimeout,
			Concurrency: cfg.FetchConcurrency,
		}
		refresher = refresh.New(appCtx, runner, links, events)
		srvr      = api.NewServer(api.ServerConfig{
			Port:       cfg.Port,
			CorsOrigin: cfg.CorsOrigin,
		}, refresher, links, events)
	)
	defer cancel()

	// New streams start with whatever the page would show
	events.Greeting = func(ctx context.Context) []broker.Event {
		snap, _ := refresher.Current()
		ev, err := broker.NewEvent(refresh.EventDataUpdated, snap)
		if err != nil {
			slog.ErrorContext(ctx, "error encoding greeting", "error", err)
			return nil
		}
		return []broker.Event{ev}
	}

	var g run.Group
	{
		// The http server
		g.Add(func() error {
			slog.Info("listening", "addr", srvr.Addr)
			if err := srvr.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error listening: %s", err)
			}
			return nil
		}, func(error) {
			downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := srvr.Shutdown(downCtx); err != nil {
				slog.Error("error shutting down server", "error", err)
			}
		})
	}
	{
		// Scheduled refreshes, the first one right away
		g.Add(func() error {
			return refresher.Run(appCtx, cfg.RefreshInterval)
		}, func(error) {
			cancel()
		})
	}
	{
		g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	}

	if err := g.Run(); err != nil {
		var sigErr run.SignalError
		if errors.As(err, &sigErr) {
			slog.Info("shutting down", "signal", sigErr.Signal)
			return nil
		}
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}
