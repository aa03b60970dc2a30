package normalize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"techradar/engine/internal/models"
)

// githubEvent is the payload shape produced by the GitHub fetch client: the
// relevant slice of the repository events/releases API response plus the repo
// context and the star/fork deltas the client observed since its last poll.
type githubEvent struct {
	Repo        string   `json:"repo"`
	Event       string   `json:"event"` // "release", "tag" or "commit"
	SHA         string   `json:"sha,omitempty"`
	TagName     string   `json:"tag_name,omitempty"`
	Name        string   `json:"name,omitempty"`
	HTMLURL     string   `json:"html_url,omitempty"`
	TarballURL  string   `json:"tarball_url,omitempty"`
	Author      string   `json:"author,omitempty"`
	PublishedAt string   `json:"published_at,omitempty"`
	StarsDelta  *float64 `json:"stars_delta,omitempty"`
	ForksDelta  *float64 `json:"forks_delta,omitempty"`
}

func normalizeGitHub(data []byte) (*models.Item, error) {
	var ev githubEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: github event: %v", ErrInvalidPayload, err)
	}
	if ev.Repo == "" {
		return nil, fmt.Errorf("%w: github event missing repo", ErrInvalidPayload)
	}

	var originID, title, url string
	switch ev.Event {
	case "release", "tag":
		if ev.TagName == "" {
			return nil, fmt.Errorf("%w: github %s for %s missing tag_name", ErrInvalidPayload, ev.Event, ev.Repo)
		}
		originID = ev.Repo + "@" + ev.TagName
		title = ev.Name
		if title == "" {
			title = fmt.Sprintf("%s %s", ev.Repo, ev.TagName)
		}
		url = ev.HTMLURL
		if url == "" {
			url = fmt.Sprintf("https://github.com/%s/releases/tag/%s", ev.Repo, ev.TagName)
		}
	case "commit":
		if ev.SHA == "" {
			return nil, fmt.Errorf("%w: github commit for %s missing sha", ErrInvalidPayload, ev.Repo)
		}
		originID = ev.Repo + "@" + ev.SHA
		title = ev.Name
		if title == "" {
			return nil, fmt.Errorf("%w: github commit %s missing message", ErrInvalidPayload, originID)
		}
		url = ev.HTMLURL
		if url == "" {
			url = fmt.Sprintf("https://github.com/%s/commit/%s", ev.Repo, ev.SHA)
		}
	default:
		return nil, fmt.Errorf("%w: github event type %q", ErrInvalidPayload, ev.Event)
	}

	item := models.NewItem(models.KindGitHub, originID)
	item.Title = title
	item.URL = url
	if ev.TarballURL != "" {
		item.SecondaryURL = sql.NullString{String: ev.TarballURL, Valid: true}
	}
	if ev.Author != "" {
		item.Author = sql.NullString{String: ev.Author, Valid: true}
	}
	if ev.PublishedAt != "" {
		ts, err := time.Parse(time.RFC3339, ev.PublishedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: github event %s has bad published_at %q", ErrInvalidPayload, originID, ev.PublishedAt)
		}
		item.EventTime = sql.NullTime{Time: ts.UTC(), Valid: true}
	}

	features := models.Features{{Name: "event", Value: ev.Event}}
	if ev.TagName != "" {
		features = append(features, models.Feature{Name: "version", Value: ev.TagName})
	}
	if ev.StarsDelta != nil {
		features = append(features, models.Feature{Name: "stars_delta", Value: formatDelta(*ev.StarsDelta)})
	}
	if ev.ForksDelta != nil {
		features = append(features, models.Feature{Name: "forks_delta", Value: formatDelta(*ev.ForksDelta)})
	}
	item.RawFeatures = features

	return item, nil
}

func formatDelta(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
