package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"techradar/engine/internal/models"
	"techradar/engine/internal/normalize"
)

// JSONFetcher fetches a source URL that serves a JSON array and emits one
// payload per array element. The GitHub and HuggingFace discovery endpoints
// both expose this shape; the element schemas are documented in
// internal/normalize.
type JSONFetcher struct {
	client    *http.Client
	userAgent string
}

// NewJSONFetcher creates a JSON array fetcher with the given request timeout.
func NewJSONFetcher(timeout time.Duration) *JSONFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JSONFetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
	}
}

// Fetch retrieves and splits the JSON document at src.URL. The transient
// versus permanent error classification matches RSSFetcher.
func (f *JSONFetcher) Fetch(ctx context.Context, src models.Source) ([]normalize.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", src.URL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTransient, src.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: %s returned HTTP %d", ErrTransient, src.URL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint %s returned HTTP %d", src.URL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrTransient, src.URL, err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("endpoint %s returned invalid JSON: %w", src.URL, err)
	}

	payloads := make([]normalize.Payload, 0, len(entries))
	for _, entry := range entries {
		payloads = append(payloads, normalize.Payload{Kind: src.Kind, Data: entry})
	}
	return payloads, nil
}
