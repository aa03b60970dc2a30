package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"techradar/engine/internal/collector"
	"techradar/engine/internal/lifecycle"
	"techradar/engine/internal/models"
	"techradar/engine/internal/server/pagination"
	"techradar/engine/internal/server/storage"
	"techradar/engine/internal/store"
)

const defaultLimit = 50
const maxLimit = 1000
const iso8601Format = time.RFC3339

// DigestReader serves the ranked snapshot.
type DigestReader interface {
	Refresh(ctx context.Context) error
	Read(limit int, minScore float64) []models.Item
	RefreshedAt() time.Time
}

// RunTrigger starts one ingestion cycle.
type RunTrigger interface {
	RunCycle(ctx context.Context) ([]collector.Result, error)
}

// SourceLister returns the registered sources.
type SourceLister interface {
	ListSources(ctx context.Context, enabledOnly bool) ([]models.Source, error)
}

// Handler holds dependencies for the API endpoints.
type Handler struct {
	repo      storage.ItemRepository
	view      DigestReader
	lifecycle *lifecycle.Controller
	runner    RunTrigger
	sources   SourceLister
}

// NewHandler creates a new handler instance.
func NewHandler(repo storage.ItemRepository, view DigestReader, lc *lifecycle.Controller, runner RunTrigger, sources SourceLister) *Handler {
	return &Handler{
		repo:      repo,
		view:      view,
		lifecycle: lc,
		runner:    runner,
		sources:   sources,
	}
}

// digestEntry is the record shape exposed to digest consumers.
type digestEntry struct {
	Title     string        `json:"title"`
	URL       string        `json:"url"`
	EventTime *time.Time    `json:"event_time,omitempty"`
	Score     float64       `json:"score"`
	Status    models.Status `json:"status"`
}

// DigestResponse is the body of GET /v1/digest.
type DigestResponse struct {
	Items       []digestEntry `json:"items"`
	RefreshedAt *time.Time    `json:"refreshed_at,omitempty"`
}

// GetDigest serves the current ranked snapshot. Reading never triggers a
// refresh; callers control staleness via POST /v1/digest/refresh.
func (h *Handler) GetDigest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	query := r.URL.Query()

	limit := defaultLimit
	if limitStr := query.Get("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var minScore float64
	if minScoreStr := query.Get("min_score"); minScoreStr != "" {
		parsed, err := strconv.ParseFloat(minScoreStr, 64)
		if err != nil || parsed < 0 {
			log.Warn().Err(err).Str("min_score", minScoreStr).Msg("Invalid 'min_score' parameter value")
			http.Error(w, "Invalid 'min_score' parameter: must be a non-negative number", http.StatusBadRequest)
			return
		}
		minScore = parsed
	}

	items := h.view.Read(limit, minScore)

	entries := make([]digestEntry, 0, len(items))
	for _, item := range items {
		entry := digestEntry{
			Title:  item.Title,
			URL:    item.URL,
			Score:  item.Score,
			Status: item.Status,
		}
		if item.EventTime.Valid {
			t := item.EventTime.Time.UTC()
			entry.EventTime = &t
		}
		entries = append(entries, entry)
	}

	resp := DigestResponse{Items: entries}
	if at := h.view.RefreshedAt(); !at.IsZero() {
		resp.RefreshedAt = &at
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// RefreshDigest regenerates the ranked snapshot.
func (h *Handler) RefreshDigest(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	if err := h.view.Refresh(r.Context()); err != nil {
		log.Error().Err(err).Msg("Digest refresh failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunResponse is the body of POST /v1/runs.
type RunResponse struct {
	Results []collector.Result `json:"results"`
}

// TriggerRun executes one ingestion cycle synchronously and reports the
// per-source outcome counts. Partial failure is reported, not masked.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	results, err := h.runner.RunCycle(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Ingestion run failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, RunResponse{Results: results})
}

// TransitionRequest is the body of POST /v1/lifecycle.
type TransitionRequest struct {
	Kind     models.SourceKind `json:"kind"`
	OriginID string            `json:"origin_id"`
	Action   string            `json:"action"` // "enrich", "publish" or "discard"
	Reason   string            `json:"reason,omitempty"`
}

// Transition applies a lifecycle action to an item. Illegal moves surface as
// 409 rather than being silently coerced.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn().Err(err).Msg("Invalid transition request body")
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Kind == "" || req.OriginID == "" {
		http.Error(w, "Missing required fields: 'kind' and 'origin_id'", http.StatusBadRequest)
		return
	}

	key := models.ItemKey{Kind: req.Kind, OriginID: req.OriginID}

	var err error
	switch req.Action {
	case "enrich":
		err = h.lifecycle.MarkEnriched(r.Context(), key)
	case "publish":
		err = h.lifecycle.Publish(r.Context(), key)
	case "discard":
		err = h.lifecycle.Discard(r.Context(), key, req.Reason)
	default:
		http.Error(w, "Invalid 'action': must be enrich, publish or discard", http.StatusBadRequest)
		return
	}

	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "Item not found", http.StatusNotFound)
	case errors.Is(err, store.ErrInvalidTransition):
		log.Warn().Err(err).Stringer("key", key).Str("action", req.Action).Msg("Rejected lifecycle transition")
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Error().Err(err).Stringer("key", key).Msg("Lifecycle transition failed")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// itemRecord is the flattened item shape for the items listing. The sql.Null
// wrappers on the model would otherwise leak as {"String":...,"Valid":...}
// objects into the JSON.
type itemRecord struct {
	Kind          models.SourceKind `json:"kind"`
	OriginID      string            `json:"origin_id"`
	Title         string            `json:"title"`
	URL           string            `json:"url"`
	SecondaryURL  string            `json:"secondary_url,omitempty"`
	Author        string            `json:"author,omitempty"`
	EventTime     *time.Time        `json:"event_time,omitempty"`
	DiscoveredAt  time.Time         `json:"discovered_at"`
	RawFeatures   models.Features   `json:"raw_features,omitempty"`
	Status        models.Status     `json:"status"`
	Score         float64           `json:"score"`
	DiscardReason string            `json:"discard_reason,omitempty"`
}

func toItemRecord(item models.Item) itemRecord {
	rec := itemRecord{
		Kind:         item.Kind,
		OriginID:     item.OriginID,
		Title:        item.Title,
		URL:          item.URL,
		DiscoveredAt: item.DiscoveredAt.UTC(),
		RawFeatures:  item.RawFeatures,
		Status:       item.Status,
		Score:        item.Score,
	}
	if item.SecondaryURL.Valid {
		rec.SecondaryURL = item.SecondaryURL.String
	}
	if item.Author.Valid {
		rec.Author = item.Author.String
	}
	if item.EventTime.Valid {
		t := item.EventTime.Time.UTC()
		rec.EventTime = &t
	}
	if item.DiscardedFor.Valid {
		rec.DiscardReason = item.DiscardedFor.String
	}
	return rec
}

// ItemsResponse is the body of GET /v1/items.
type ItemsResponse struct {
	Items      []itemRecord `json:"items"`
	NextCursor *string      `json:"next_cursor,omitempty"`
}

// GetItems lists items in discovery order with cursor pagination.
func (h *Handler) GetItems(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	query := r.URL.Query()
	limitStr := query.Get("limit")
	sinceStr := query.Get("since")
	cursorStr := query.Get("cursor")

	limit := defaultLimit
	if limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit <= 0 || parsedLimit > maxLimit {
			log.Warn().Err(err).Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxLimit), http.StatusBadRequest)
			return
		}
		limit = parsedLimit
	}

	var since *time.Time
	var cursorTimestamp *time.Time
	var cursorID *int64

	if cursorStr != "" {
		ts, id, err := pagination.DecodeCursor(cursorStr)
		if err != nil {
			log.Warn().Err(err).Str("cursor", cursorStr).Msg("Invalid 'cursor' parameter")
			http.Error(w, "Invalid 'cursor' parameter", http.StatusBadRequest)
			return
		}
		cursorTimestamp = &ts
		cursorID = &id
	} else if sinceStr != "" {
		parsedSince, err := time.Parse(iso8601Format, sinceStr)
		if err != nil {
			log.Warn().Err(err).Str("since", sinceStr).Msg("Invalid 'since' parameter format")
			http.Error(w, "Invalid 'since' parameter: use RFC3339 format (e.g., 2025-03-28T15:00:00Z)", http.StatusBadRequest)
			return
		}
		utcSince := parsedSince.UTC()
		since = &utcSince
	} else {
		http.Error(w, "Missing required parameter: 'since' or 'cursor'", http.StatusBadRequest)
		return
	}

	items, err := h.repo.FetchItems(r.Context(), limit+1, since, cursorTimestamp, cursorID) // Fetch one extra
	if err != nil {
		log.Error().Err(err).Str("cursor", cursorStr).Msg("Error fetching items from repository")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var nextCursorStr *string
	actualItems := items
	if len(items) > limit {
		actualItems = items[:limit]
		lastItem := actualItems[len(actualItems)-1]
		cursor := pagination.EncodeCursor(lastItem.DiscoveredAt.UTC(), lastItem.ID)
		nextCursorStr = &cursor
	}

	records := make([]itemRecord, 0, len(actualItems))
	for _, item := range actualItems {
		records = append(records, toItemRecord(item))
	}

	writeJSON(w, r, http.StatusOK, ItemsResponse{Items: records, NextCursor: nextCursorStr})
}

// GetSources exports the source registry.
func (h *Handler) GetSources(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	sources, err := h.sources.ListSources(r.Context(), false)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sources")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"sources": sources})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
}
