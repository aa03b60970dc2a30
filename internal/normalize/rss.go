package normalize

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"techradar/engine/internal/models"
)

// rssEntry is one feed entry plus the feed context it was found in. The
// collector splits a fetched feed document into per-entry payloads with
// SplitFeed; each entry then normalizes independently so one malformed entry
// never sinks its siblings.
type rssEntry struct {
	FeedTitle string       `json:"feed_title,omitempty"`
	Entry     *gofeed.Item `json:"entry"`
}

// SplitFeed parses a raw RSS/Atom document and returns one payload per entry.
func SplitFeed(data []byte) ([]Payload, error) {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: rss document: %v", ErrInvalidPayload, err)
	}

	payloads := make([]Payload, 0, len(feed.Items))
	for _, entry := range feed.Items {
		raw, err := json.Marshal(rssEntry{FeedTitle: feed.Title, Entry: entry})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal rss entry: %w", err)
		}
		payloads = append(payloads, Payload{Kind: models.KindRSS, Data: raw})
	}
	return payloads, nil
}

func normalizeRSS(data []byte) (*models.Item, error) {
	var wrapped rssEntry
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: rss entry: %v", ErrInvalidPayload, err)
	}
	entry := wrapped.Entry
	if entry == nil {
		return nil, fmt.Errorf("%w: rss payload missing entry", ErrInvalidPayload)
	}

	title := strings.TrimSpace(entry.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: rss entry missing title", ErrInvalidPayload)
	}
	link := strings.TrimSpace(entry.Link)
	if link == "" && len(entry.Links) > 0 {
		link = strings.TrimSpace(entry.Links[0])
	}
	if link == "" {
		return nil, fmt.Errorf("%w: rss entry %q missing link", ErrInvalidPayload, title)
	}

	// Entry GUIDs are the stable provider identifier; fall back to the link
	// for feeds that omit them.
	originID := strings.TrimSpace(entry.GUID)
	if originID == "" {
		originID = link
	}

	item := models.NewItem(models.KindRSS, originID)
	item.Title = title
	item.URL = link
	if len(entry.Authors) > 0 && entry.Authors[0].Name != "" {
		item.Author = sql.NullString{String: entry.Authors[0].Name, Valid: true}
	}

	published := entry.PublishedParsed
	if published == nil {
		published = entry.UpdatedParsed
	}
	if published != nil {
		item.EventTime = sql.NullTime{Time: published.UTC(), Valid: true}
	}

	var features models.Features
	if wrapped.FeedTitle != "" {
		features = append(features, models.Feature{Name: "feed_title", Value: wrapped.FeedTitle})
	}
	if len(entry.Categories) > 0 {
		features = append(features, models.Feature{Name: "categories", Value: strings.Join(entry.Categories, ",")})
	}
	item.RawFeatures = features

	return item, nil
}
