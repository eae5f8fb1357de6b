package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

const (
	// DefaultTimeout bounds a single feed fetch, body included.
	DefaultTimeout = 10 * time.Second

	userAgent = "rssmd/1.0 (+https://github.com/jdholdren/rssmd)"

	// Feeds larger than this are cut off and will most likely fail to parse.
	maxFeedSize = 10 << 20
)

var syncClient = &http.Client{
	Timeout: time.Minute,
}

// StatusError is returned when a feed answered with a non 2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// Wraps a transport failure where no response came back at all.
type noResponseError struct {
	err error
}

func (e *noResponseError) Error() string {
	return fmt.Sprintf("no response: %s", e.err)
}

func (e *noResponseError) Unwrap() error {
	return e.err
}

// Goes to the url and grabs the feed document, then parses it.
func fetchFeed(ctx context.Context, client *http.Client, timeout time.Duration, feedURL string) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return Channel{}, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return Channel{}, &noResponseError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Channel{}, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return Channel{}, fmt.Errorf("error reading feed body: %w", err)
	}

	return Parse(body)
}

// Turns the error from fetching one feed into the record kept for the cycle.
func classify(feedURL string, err error) rssmd.FetchError {
	var (
		netErr    net.Error
		statusErr *StatusError
		noResp    *noResponseError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()):
		return rssmd.FetchError{
			SourceURL: feedURL,
			Message:   fmt.Sprintf("获取RSS源超时: %s", feedURL),
			Kind:      rssmd.ErrorKindTimeout,
		}
	case errors.As(err, &statusErr):
		return rssmd.FetchError{
			SourceURL: feedURL,
			Message:   fmt.Sprintf("获取RSS源失败: %s, 状态码: %d", feedURL, statusErr.Code),
			Kind:      rssmd.ErrorKindHTTP,
		}
	case errors.As(err, &noResp):
		return rssmd.FetchError{
			SourceURL: feedURL,
			Message:   fmt.Sprintf("获取RSS源失败: %s, 没有收到响应", feedURL),
			Kind:      rssmd.ErrorKindNetwork,
		}
	default:
		return rssmd.FetchError{
			SourceURL: feedURL,
			Message:   fmt.Sprintf("获取RSS源出错: %s: %s", feedURL, err),
			Kind:      rssmd.ErrorKindOther,
		}
	}
}
