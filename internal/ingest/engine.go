// Package ingest decides, for every normalized item, whether it is new, an
// update to a known key, or a no-op duplicate, and keeps the stored score in
// step with the item's features.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"techradar/engine/internal/models"
	"techradar/engine/internal/scoring"
	"techradar/engine/internal/store"
)

// Outcome reports what an Ingest call did.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Engine applies normalized items to the store.
type Engine struct {
	store  *store.Store
	scorer scoring.Config
	now    func() time.Time
}

// New creates an ingest engine.
func New(s *store.Store, scorer scoring.Config) *Engine {
	return &Engine{store: s, scorer: scorer, now: func() time.Time { return time.Now().UTC() }}
}

// WithNow pins the engine clock; used by tests to make recency reproducible.
func (e *Engine) WithNow(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Ingest upserts the item under its (kind, origin_id) key. New keys insert
// with status new and an immediately computed score. Existing keys get their
// title, url, author, features and event time replaced; rescoring happens
// only when the store reports a scoring-relevant change, and status is never
// touched on update: an already published item stays published even when
// its upstream payload changes. That trades always-fresh content for a
// stable digest history.
func (e *Engine) Ingest(ctx context.Context, src *models.Source, item *models.Item) (Outcome, error) {
	if src != nil && src.ID > 0 {
		item.SourceID = sql.NullInt64{Int64: src.ID, Valid: true}
	}

	if !item.EventTime.Valid {
		if _, ok := item.RawFeatures.Get(scoring.FallbackFeature); !ok {
			item.RawFeatures = append(item.RawFeatures,
				models.Feature{Name: scoring.FallbackFeature, Value: "true"})
		}
	}

	weight := 1.0
	if src != nil {
		weight = src.Weight
	}

	// The callback scores the stored row, so discovered_at reflects the
	// first observation, not this call. Running it inside the upsert
	// transaction keeps the score consistent with the features that won.
	res, err := e.store.UpsertScored(ctx, item, func(stored *models.Item) float64 {
		return e.scorer.Score(stored, weight, e.now())
	})
	if err != nil {
		return "", fmt.Errorf("failed to ingest %s: %w", item.Key(), err)
	}

	if !res.Changed {
		return OutcomeUnchanged, nil
	}

	outcome := OutcomeUpdated
	if res.Inserted {
		outcome = OutcomeNew
	}

	log.Debug().
		Stringer("key", item.Key()).
		Str("outcome", string(outcome)).
		Float64("score", res.Score).
		Msg("Item ingested")
	return outcome, nil
}
