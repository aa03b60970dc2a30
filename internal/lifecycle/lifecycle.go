// Package lifecycle advances items through their processing states. All
// legality checks delegate to the store, which is the single source of truth
// for the forward-only order new -> enriched -> published/discarded.
package lifecycle

import (
	"context"

	"github.com/rs/zerolog/log"

	"techradar/engine/internal/models"
	"techradar/engine/internal/store"
)

// Controller exposes the lifecycle transitions to external collaborators
// (the enrichment worker and the digest orchestrator).
type Controller struct {
	store *store.Store
}

// New creates a lifecycle controller.
func New(s *store.Store) *Controller {
	return &Controller{store: s}
}

// MarkEnriched records that enrichment has attached a summary/tags to the
// item. Only valid from status new.
func (c *Controller) MarkEnriched(ctx context.Context, key models.ItemKey) error {
	return c.store.SetStatus(ctx, key, models.StatusEnriched, "")
}

// Publish marks an enriched item as delivered. Terminal.
func (c *Controller) Publish(ctx context.Context, key models.ItemKey) error {
	return c.store.SetStatus(ctx, key, models.StatusPublished, "")
}

// Discard drops an enriched item from publication, keeping the row and the
// reason for the audit trail. Terminal.
func (c *Controller) Discard(ctx context.Context, key models.ItemKey, reason string) error {
	if err := c.store.SetStatus(ctx, key, models.StatusDiscarded, reason); err != nil {
		return err
	}
	log.Info().
		Stringer("key", key).
		Str("reason", reason).
		Msg("Item discarded")
	return nil
}
