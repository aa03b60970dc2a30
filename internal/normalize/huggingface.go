package normalize

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"techradar/engine/internal/models"
)

// hfEntry is the payload shape produced by the HuggingFace fetch client: one
// entry of the hub models/datasets listing plus the activity deltas the
// client observed since its last poll.
type hfEntry struct {
	ID             string   `json:"id"`
	Repo           string   `json:"repo,omitempty"` // "model" or "dataset", defaults to model
	Author         string   `json:"author,omitempty"`
	LastModified   string   `json:"lastModified,omitempty"`
	PipelineTag    string   `json:"pipeline_tag,omitempty"`
	Likes          *float64 `json:"likes,omitempty"`
	Downloads      *float64 `json:"downloads,omitempty"`
	LikesDelta     *float64 `json:"likes_delta,omitempty"`
	DownloadsDelta *float64 `json:"downloads_delta,omitempty"`
}

func normalizeHuggingFace(data []byte) (*models.Item, error) {
	var entry hfEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: huggingface entry: %v", ErrInvalidPayload, err)
	}
	if entry.ID == "" || !strings.Contains(entry.ID, "/") {
		return nil, fmt.Errorf("%w: huggingface entry missing namespace/name id", ErrInvalidPayload)
	}

	repo := entry.Repo
	if repo == "" {
		repo = "model"
	}
	if repo != "model" && repo != "dataset" {
		return nil, fmt.Errorf("%w: huggingface repo type %q", ErrInvalidPayload, repo)
	}

	originID := repo + ":" + entry.ID
	url := "https://huggingface.co/" + entry.ID
	if repo == "dataset" {
		url = "https://huggingface.co/datasets/" + entry.ID
	}

	item := models.NewItem(models.KindHuggingFace, originID)
	item.Title = entry.ID
	item.URL = url
	author := entry.Author
	if author == "" {
		author = strings.SplitN(entry.ID, "/", 2)[0]
	}
	item.Author = sql.NullString{String: author, Valid: true}

	if entry.LastModified != "" {
		ts, err := time.Parse(time.RFC3339, entry.LastModified)
		if err != nil {
			return nil, fmt.Errorf("%w: huggingface entry %s has bad lastModified %q", ErrInvalidPayload, entry.ID, entry.LastModified)
		}
		item.EventTime = sql.NullTime{Time: ts.UTC(), Valid: true}
	}

	features := models.Features{{Name: "repo", Value: repo}}
	if entry.PipelineTag != "" {
		features = append(features, models.Feature{Name: "pipeline_tag", Value: entry.PipelineTag})
	}
	if entry.Likes != nil {
		features = append(features, models.Feature{Name: "likes", Value: formatDelta(*entry.Likes)})
	}
	if entry.Downloads != nil {
		features = append(features, models.Feature{Name: "downloads", Value: formatDelta(*entry.Downloads)})
	}
	if entry.LikesDelta != nil {
		features = append(features, models.Feature{Name: "likes_delta", Value: formatDelta(*entry.LikesDelta)})
	}
	if entry.DownloadsDelta != nil {
		features = append(features, models.Feature{Name: "downloads_delta", Value: formatDelta(*entry.DownloadsDelta)})
	}
	item.RawFeatures = features

	return item, nil
}
