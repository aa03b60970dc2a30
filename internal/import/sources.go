// Package importsources loads the configured source registry into the
// database. Sources are identified by (kind, url); re-importing updates
// weight and enable flags without touching failure counters or items.
package importsources

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"techradar/engine/internal/config"
	"techradar/engine/internal/store"
)

// Importer handles the source import process.
type Importer struct {
	store *store.Store
}

// NewImporter creates a new source importer.
func NewImporter(s *store.Store) *Importer {
	return &Importer{store: s}
}

// ImportSources upserts every source from the config file into the registry.
func (i *Importer) ImportSources(ctx context.Context, cfgPath string) error {
	log.Info().Str("config", cfgPath).Msg("Starting source import")

	file, err := config.LoadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load sources config: %w", err)
	}

	successCount := 0
	var importErrs []string

	for idx, spec := range file.Sources {
		src := spec.Model()

		logger := log.With().
			Int("index", idx).
			Str("kind", string(src.Kind)).
			Str("name", src.Name).
			Str("url", src.URL).
			Logger()

		if _, err := i.store.UpsertSource(ctx, src); err != nil {
			logger.Error().Err(err).Msg("Failed to import source")
			importErrs = append(importErrs, fmt.Sprintf("%s: %v", src.Name, err))
			continue
		}

		successCount++
		logger.Debug().Msg("Source imported")
	}

	log.Info().
		Int("total", len(file.Sources)).
		Int("success", successCount).
		Int("errors", len(importErrs)).
		Msg("Import summary")

	if len(importErrs) > 0 {
		return fmt.Errorf("imported %d/%d sources, failures: %v",
			successCount, len(file.Sources), importErrs)
	}
	return nil
}
