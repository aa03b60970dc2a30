// Package digest maintains a point-in-time ranked projection of publishable
// items. The snapshot is regenerated as a whole, never patched, so readers
// can't observe a partially refreshed ranking.
package digest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"techradar/engine/internal/models"
	"techradar/engine/internal/store"
)

// View serves the ranked digest snapshot. Refresh takes one consistent read
// of qualifying items and swaps it in atomically; Read never refreshes, so
// staleness is bounded only by how often the caller invokes Refresh.
type View struct {
	store *store.Store

	mu          sync.RWMutex
	items       []models.Item
	refreshedAt time.Time
}

// New creates an empty view; call Refresh before the first Read.
func New(s *store.Store) *View {
	return &View{store: s}
}

// Refresh regenerates the snapshot from items with status enriched or
// published, ranked by score with event_time then discovered_at breaking
// ties. Concurrent refreshes each swap a complete snapshot, so readers see
// one or the other, never a mix.
func (v *View) Refresh(ctx context.Context) error {
	items, err := v.store.List(ctx, store.Filter{
		Statuses: []models.Status{models.StatusEnriched, models.StatusPublished},
		Ranked:   true,
	})
	if err != nil {
		return fmt.Errorf("failed to refresh digest snapshot: %w", err)
	}

	v.mu.Lock()
	v.items = items
	v.refreshedAt = time.Now().UTC()
	v.mu.Unlock()

	log.Debug().Int("items", len(items)).Msg("Digest snapshot refreshed")
	return nil
}

// Read returns up to limit items from the current snapshot with score at
// least minScore, preserving the snapshot order. limit <= 0 means no limit.
func (v *View) Read(limit int, minScore float64) []models.Item {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]models.Item, 0, len(v.items))
	for _, item := range v.items {
		if item.Score < minScore {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// RefreshedAt reports when the current snapshot was generated. Zero before
// the first refresh.
func (v *View) RefreshedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.refreshedAt
}
