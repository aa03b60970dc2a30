package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"techradar/engine/internal/database"
	"techradar/engine/internal/models"
)

// ItemRepository defines the paginated item listing used by the API.
type ItemRepository interface {
	FetchItems(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Item, error)
}

// sqlxRepository implements ItemRepository using sqlx.
type sqlxRepository struct {
	db *database.DB
}

// NewRepository creates a new repository instance.
func NewRepository(db *database.DB) ItemRepository {
	return &sqlxRepository{db: db}
}

// FetchItems retrieves items in discovery order based on time or cursor.
// Consistent ordering on (discovered_at, id) is what makes the cursor stable.
func (r *sqlxRepository) FetchItems(ctx context.Context, limit int, since *time.Time, cursorTimestamp *time.Time, cursorID *int64) ([]models.Item, error) {
	var items []models.Item
	var query string
	var args []any

	const baseQuery = `SELECT * FROM items `
	const orderBy = ` ORDER BY discovered_at ASC, id ASC LIMIT ?`

	if cursorTimestamp != nil && cursorID != nil {
		// Paginate from the (timestamp, id) of the last item on the
		// previous page.
		query = baseQuery + `WHERE (discovered_at > ?) OR (discovered_at = ? AND id > ?)` + orderBy
		args = append(args, cursorTimestamp.UTC(), cursorTimestamp.UTC(), *cursorID, limit)
	} else if since != nil {
		// First page request using a 'since' timestamp.
		query = baseQuery + `WHERE discovered_at > ?` + orderBy
		args = append(args, since.UTC(), limit)
	} else {
		return nil, fmt.Errorf("either 'since' or cursor parameters must be provided")
	}

	err := r.db.SelectContext(ctx, &items, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.Item{}, nil
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return items, nil
}
