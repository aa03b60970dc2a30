package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"techradar/engine/internal/models"
)

// maxSourceFailures is the consecutive-failure cap after which a source is
// disabled. Disabling stops future ingestion but never removes its items.
const maxSourceFailures = 10

// UpsertSource registers a provider or updates its weight and enable flag.
// Identity is (kind, url); failure counters survive re-registration.
func (s *Store) UpsertSource(ctx context.Context, src *models.Source) (int64, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (kind, name, url, weight, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(kind, url) DO UPDATE SET
			name = excluded.name, weight = excluded.weight,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		src.Kind, src.Name, src.URL, src.Weight, src.Enabled, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert source %s/%s: %w", src.Kind, src.URL, err)
	}

	var id int64
	err = s.db.GetContext(ctx, &id,
		"SELECT id FROM sources WHERE kind = ? AND url = ?", src.Kind, src.URL)
	if err != nil {
		return 0, fmt.Errorf("failed to read back source %s/%s: %w", src.Kind, src.URL, err)
	}
	src.ID = id
	return id, nil
}

// ListSources returns registered sources, optionally only enabled ones.
func (s *Store) ListSources(ctx context.Context, enabledOnly bool) ([]models.Source, error) {
	query := "SELECT * FROM sources ORDER BY kind ASC, name ASC"
	if enabledOnly {
		query = "SELECT * FROM sources WHERE enabled = 1 ORDER BY kind ASC, name ASC"
	}

	var sources []models.Source
	if err := s.db.SelectContext(ctx, &sources, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// GetSource retrieves one source by id.
func (s *Store) GetSource(ctx context.Context, id int64) (*models.Source, error) {
	var src models.Source
	err := s.db.GetContext(ctx, &src, "SELECT * FROM sources WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: source %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %d: %w", id, err)
	}
	return &src, nil
}

// RecordRunSuccess resets the failure counter after a clean run.
func (s *Store) RecordRunSuccess(ctx context.Context, sourceID int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources
		SET failures_count = 0, last_error = NULL, last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		now, now, sourceID)
	if err != nil {
		return fmt.Errorf("failed to record run success for source %d: %w", sourceID, err)
	}
	return nil
}

// RecordRunFailure increments the failure counter and disables the source
// once it passes the cap.
func (s *Store) RecordRunFailure(ctx context.Context, sourceID int64, runErr error) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		UPDATE sources
		SET failures_count = failures_count + 1,
			last_error = ?,
			enabled = CASE WHEN failures_count + 1 > ? THEN 0 ELSE enabled END,
			last_run_at = ?, updated_at = ?
		WHERE id = ?`,
		runErr.Error(), maxSourceFailures, now, now, sourceID)
	if err != nil {
		return fmt.Errorf("failed to record run failure for source %d: %w", sourceID, err)
	}
	return nil
}
