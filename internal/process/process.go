// Package process orchestrates one full processing cycle: collector run,
// digest refresh, retention purge.
package process

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"techradar/engine/internal/collector"
	"techradar/engine/internal/digest"
	"techradar/engine/internal/store"
)

// Processor executes processing cycles against the shared store.
type Processor struct {
	store         *store.Store
	runner        *collector.Runner
	view          *digest.View
	retentionDays int
}

// New creates a processor.
func New(s *store.Store, r *collector.Runner, v *digest.View, retentionDays int) *Processor {
	return &Processor{store: s, runner: r, view: v, retentionDays: retentionDays}
}

// RunCycle loads the enabled sources, runs the collectors, refreshes the
// digest snapshot and purges expired discards. Per-source failures are
// reported in the results, not as a cycle error: a cycle fails only when the
// engine itself cannot make progress.
func (p *Processor) RunCycle(ctx context.Context) ([]collector.Result, error) {
	sources, err := p.store.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	if len(sources) == 0 {
		log.Warn().Msg("No enabled sources registered, nothing to ingest")
	}

	startTime := time.Now()
	results := p.runner.Run(ctx, sources)

	var seen, added, updated, unchanged, skipped, failed int
	for _, res := range results {
		seen += res.Seen
		added += res.New
		updated += res.Updated
		unchanged += res.Unchanged
		skipped += res.Skipped
		if res.Err != nil {
			failed++
		}
	}

	log.Info().
		Dur("duration", time.Since(startTime)).
		Int("sources", len(results)).
		Int("sources_failed", failed).
		Int("seen", seen).
		Int("new", added).
		Int("updated", updated).
		Int("unchanged", unchanged).
		Int("skipped", skipped).
		Msg("Ingestion run finished")

	if err := p.view.Refresh(ctx); err != nil {
		return results, fmt.Errorf("failed to refresh digest: %w", err)
	}

	if p.retentionDays > 0 {
		purgeCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		purged, err := p.store.PurgeDiscarded(purgeCtx, p.retentionDays)
		if err != nil {
			log.Error().Err(err).Msg("Failed to purge discarded items")
		} else if purged > 0 {
			log.Info().Int64("purged", purged).Msg("Purged expired discarded items")
		}
	}

	return results, nil
}
