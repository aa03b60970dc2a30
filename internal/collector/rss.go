package collector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"techradar/engine/internal/models"
	"techradar/engine/internal/normalize"
)

const (
	defaultUserAgent = "techradar-engine/1.0"
	maxFeedBytes     = 10 << 20 // 10MB
)

// RSSFetcher fetches a source's feed URL over HTTP and splits the document
// into per-entry payloads. GitHub and HuggingFace sources use JSONFetcher
// instead.
type RSSFetcher struct {
	client    *http.Client
	userAgent string
}

// NewRSSFetcher creates an RSS fetcher with the given request timeout.
func NewRSSFetcher(timeout time.Duration) *RSSFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RSSFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch retrieves the feed document at src.URL. Network failures, timeouts,
// 429 and 5xx responses are transient; other HTTP errors are permanent.
func (f *RSSFetcher) Fetch(ctx context.Context, src models.Source) ([]normalize.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrTransient, src.URL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned HTTP %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, src.URL, err)
	}

	return normalize.SplitFeed(body)
}
