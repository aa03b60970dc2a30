// Package store owns the durable item and source tables and enforces the
// uniqueness and lifecycle invariants on them. All mutation of item state
// goes through this package.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog/log"

	"techradar/engine/internal/database"
	"techradar/engine/internal/models"
)

var (
	// ErrNotFound is returned when an operation references an unknown key.
	ErrNotFound = errors.New("item not found")

	// ErrInvalidTransition is returned when a caller requests a lifecycle
	// move that is not permitted from the item's current status. This is a
	// contract violation by the caller, not a transient condition.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// UpsertResult describes what an Upsert did to the row.
type UpsertResult struct {
	// Inserted is true when the key did not exist before the call.
	Inserted bool
	// Changed is true when a scoring-relevant field (raw features or event
	// time) differs from the previously stored value. Always true on insert.
	Changed bool
	// Score is the value written by the scoring callback of UpsertScored.
	// Zero when no callback ran.
	Score float64
}

// ScoreFunc computes a score from the stored row. It runs inside the upsert
// transaction and must not touch the database.
type ScoreFunc func(stored *models.Item) float64

// Store provides keyed access to items and the source registry.
type Store struct {
	db *database.DB
}

// New creates a Store on top of an open database connection.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// Upsert inserts the item or updates the existing row with the same
// (kind, origin_id) key. The operation is atomic per key: the read-compare-
// write sequence runs inside a single immediate transaction, so concurrent
// upserts for the same key serialize and the net effect equals some serial
// order. discovered_at and status are never modified on update.
func (s *Store) Upsert(ctx context.Context, item *models.Item) (UpsertResult, error) {
	return s.UpsertScored(ctx, item, nil)
}

// UpsertScored is Upsert plus rescoring: when the row changed and score is
// non-nil, the callback receives the stored row and its result is written
// before the transaction commits. Keeping the score write inside the same
// transaction means no interleaving of two upserts can leave a score computed
// from the other call's features.
func (s *Store) UpsertScored(ctx context.Context, item *models.Item, score ScoreFunc) (UpsertResult, error) {
	var res UpsertResult

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin upsert transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existing models.Item
	err = tx.GetContext(ctx, &existing,
		"SELECT * FROM items WHERE kind = ? AND origin_id = ?",
		item.Kind, item.OriginID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		discovered := item.DiscoveredAt
		if discovered.IsZero() {
			discovered = now
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (kind, origin_id, source_id, title, url, secondary_url,
				author, event_time, discovered_at, raw_features, status, score, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.Kind, item.OriginID, item.SourceID, item.Title, item.URL,
			item.SecondaryURL, item.Author, item.EventTime, discovered,
			item.RawFeatures, models.StatusNew, 0.0, now)
		if err != nil {
			return res, fmt.Errorf("failed to insert item %s: %w", item.Key(), err)
		}
		res = UpsertResult{Inserted: true, Changed: true}

	case err != nil:
		return res, fmt.Errorf("failed to look up item %s: %w", item.Key(), err)

	default:
		changed := !existing.RawFeatures.Equal(item.RawFeatures) ||
			!nullTimeEqual(existing.EventTime, item.EventTime)

		_, err = tx.ExecContext(ctx, `
			UPDATE items
			SET title = ?, url = ?, secondary_url = ?, author = ?,
				event_time = ?, raw_features = ?, updated_at = ?
			WHERE kind = ? AND origin_id = ?`,
			item.Title, item.URL, item.SecondaryURL, item.Author,
			item.EventTime, item.RawFeatures, now,
			item.Kind, item.OriginID)
		if err != nil {
			return res, fmt.Errorf("failed to update item %s: %w", item.Key(), err)
		}
		res = UpsertResult{Inserted: false, Changed: changed}
	}

	if res.Changed && score != nil {
		var stored models.Item
		err = tx.GetContext(ctx, &stored,
			"SELECT * FROM items WHERE kind = ? AND origin_id = ?",
			item.Kind, item.OriginID)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to reload item %s for scoring: %w", item.Key(), err)
		}

		res.Score = score(&stored)
		_, err = tx.ExecContext(ctx,
			"UPDATE items SET score = ? WHERE kind = ? AND origin_id = ?",
			res.Score, item.Kind, item.OriginID)
		if err != nil {
			return UpsertResult{}, fmt.Errorf("failed to store score for %s: %w", item.Key(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("failed to commit upsert for %s: %w", item.Key(), err)
	}
	return res, nil
}

// Get retrieves an item by key, returning ErrNotFound for unknown keys.
func (s *Store) Get(ctx context.Context, key models.ItemKey) (*models.Item, error) {
	var item models.Item
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM items WHERE kind = ? AND origin_id = ?",
		key.Kind, key.OriginID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", key, err)
	}
	return &item, nil
}

// SetStatus advances the item's status. The legality check and the write
// happen in the same transaction, making this the single source of truth for
// the lifecycle order. reason is persisted only for discards.
func (s *Store) SetStatus(ctx context.Context, key models.ItemKey, target models.Status, reason string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin status transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.Status
	err = tx.GetContext(ctx, &current,
		"SELECT status FROM items WHERE kind = ? AND origin_id = ?",
		key.Kind, key.OriginID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("failed to read status of %s: %w", key, err)
	}

	if !current.CanTransition(target) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, current, target, key)
	}

	discardReason := sql.NullString{}
	if target == models.StatusDiscarded && reason != "" {
		discardReason = sql.NullString{String: reason, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE items SET status = ?, discard_reason = ?, updated_at = ?
		WHERE kind = ? AND origin_id = ?`,
		target, discardReason, time.Now().UTC(), key.Kind, key.OriginID)
	if err != nil {
		return fmt.Errorf("failed to set status of %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status change for %s: %w", key, err)
	}

	log.Debug().
		Stringer("key", key).
		Str("from", string(current)).
		Str("to", string(target)).
		Msg("Item status advanced")
	return nil
}

// SetScore stores a recomputed score for the item.
func (s *Store) SetScore(ctx context.Context, key models.ItemKey, score float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET score = ?, updated_at = ?
		WHERE kind = ? AND origin_id = ?`,
		score, time.Now().UTC(), key.Kind, key.OriginID)
	if err != nil {
		return fmt.Errorf("failed to set score of %s: %w", key, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check score update for %s: %w", key, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return nil
}

// Filter narrows a List call. Zero values mean "no constraint".
type Filter struct {
	Statuses []models.Status
	Kind     models.SourceKind
	MinScore float64
	Limit    int
	// Ranked orders by score desc with event_time then discovered_at as tie
	// breakers; otherwise rows come back in discovery order.
	Ranked bool
}

// List returns items matching the filter. A single SELECT statement keeps the
// read consistent: no torn reads across items.
func (s *Store) List(ctx context.Context, f Filter) ([]models.Item, error) {
	q := sq.Select("*").From("items")

	if len(f.Statuses) > 0 {
		q = q.Where(sq.Eq{"status": f.Statuses})
	}
	if f.Kind != "" {
		q = q.Where(sq.Eq{"kind": f.Kind})
	}
	if f.MinScore > 0 {
		q = q.Where(sq.GtOrEq{"score": f.MinScore})
	}
	if f.Ranked {
		q = q.OrderBy("score DESC", "event_time DESC", "discovered_at DESC", "id DESC")
	} else {
		q = q.OrderBy("discovered_at ASC", "id ASC")
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build list query: %w", err)
	}

	var items []models.Item
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	return items, nil
}

// PurgeDiscarded deletes discarded items older than the retention window.
// Published items are never purged so the digest history stays intact.
func (s *Store) PurgeDiscarded(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retentionDays must be positive")
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM items WHERE status = ? AND updated_at < ?",
		models.StatusDiscarded, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge discarded items: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("Could not get RowsAffected after purge")
		return 0, nil
	}
	return affected, nil
}

func nullTimeEqual(a, b sql.NullTime) bool {
	if a.Valid != b.Valid {
		return false
	}
	if !a.Valid {
		return true
	}
	return a.Time.UTC().Equal(b.Time.UTC())
}
