// Package collector drives the registered sources through one ingestion
// run: fetch, normalize, ingest, with per-source isolation and bounded
// retries. One failing source never blocks or corrupts another's run.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"techradar/engine/internal/ingest"
	"techradar/engine/internal/models"
	"techradar/engine/internal/normalize"
	"techradar/engine/internal/store"
)

// ErrTransient marks fetch failures worth retrying (timeouts, 5xx-class
// responses). Anything else fails the source immediately.
var ErrTransient = errors.New("transient fetch error")

// Fetcher retrieves raw payloads for one source. Provider clients are
// external collaborators; implementations must wrap retryable failures with
// ErrTransient.
type Fetcher interface {
	Fetch(ctx context.Context, src models.Source) ([]normalize.Payload, error)
}

// Config controls runner behavior.
type Config struct {
	// MaxRetries bounds the retry attempts per source after the first try.
	MaxRetries uint64
	// InitialBackoff seeds the exponential backoff between retries.
	InitialBackoff time.Duration
	// FetchTimeout bounds a single source's fetch-normalize-ingest sequence.
	FetchTimeout time.Duration
}

// DefaultConfig returns the stock runner settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 2 * time.Second,
		FetchTimeout:   2 * time.Minute,
	}
}

// Result is the per-source outcome of a run.
type Result struct {
	Source    models.Source `json:"source"`
	Seen      int           `json:"seen"`
	New       int           `json:"new"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Skipped   int           `json:"skipped"`
	Err       error         `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// Runner executes ingestion runs.
type Runner struct {
	store    *store.Store
	engine   *ingest.Engine
	fetchers map[models.SourceKind]Fetcher
	cfg      Config
}

// New creates a runner. fetchers maps each source kind to its provider
// client; sources whose kind has no fetcher fail with a permanent error.
func New(s *store.Store, e *ingest.Engine, fetchers map[models.SourceKind]Fetcher, cfg Config) *Runner {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	return &Runner{store: s, engine: e, fetchers: fetchers, cfg: cfg}
}

// Run processes every enabled source concurrently and returns one result per
// processed source. Cancelling ctx stops in-flight fetches cooperatively;
// already-committed upserts are retained. Running twice against identical
// upstream data leaves the store unchanged on the second pass.
func (r *Runner) Run(ctx context.Context, sources []models.Source) []Result {
	enabled := make([]models.Source, 0, len(sources))
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		} else {
			log.Debug().Str("source", src.Name).Msg("Skipping disabled source")
		}
	}

	results := make([]Result, len(enabled))

	var wg sync.WaitGroup
	for i, src := range enabled {
		wg.Add(1)
		go func(i int, src models.Source) {
			defer wg.Done()
			results[i] = r.runSource(ctx, src)
		}(i, src)
	}
	wg.Wait()

	for i := range results {
		if results[i].Err != nil {
			results[i].Error = results[i].Err.Error()
		}
	}
	return results
}

// runSource performs the fetch-normalize-ingest sequence for one source.
func (r *Runner) runSource(ctx context.Context, src models.Source) Result {
	result := Result{Source: src}

	srcCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	payloads, err := r.fetchWithRetry(srcCtx, src)
	if err != nil {
		result.Err = err
		log.Error().Err(err).Str("source", src.Name).Msg("Source fetch failed")
		if recErr := r.store.RecordRunFailure(ctx, src.ID, err); recErr != nil {
			log.Error().Err(recErr).Str("source", src.Name).Msg("Failed to record source failure")
		}
		return result
	}

	for _, payload := range payloads {
		if srcCtx.Err() != nil {
			result.Err = srcCtx.Err()
			break
		}
		result.Seen++

		item, err := normalize.Normalize(payload.Kind, payload.Data)
		if err != nil {
			// Malformed upstream payload: skip this item, continue the run.
			result.Skipped++
			log.Warn().Err(err).Str("source", src.Name).Msg("Skipping payload")
			continue
		}

		outcome, err := r.engine.Ingest(srcCtx, &src, item)
		if err != nil {
			result.Skipped++
			log.Error().Err(err).Str("source", src.Name).Stringer("key", item.Key()).Msg("Ingest failed")
			continue
		}

		switch outcome {
		case ingest.OutcomeNew:
			result.New++
		case ingest.OutcomeUpdated:
			result.Updated++
		case ingest.OutcomeUnchanged:
			result.Unchanged++
		}
	}

	if result.Err == nil {
		if recErr := r.store.RecordRunSuccess(ctx, src.ID); recErr != nil {
			log.Error().Err(recErr).Str("source", src.Name).Msg("Failed to record source success")
		}
	}

	log.Info().
		Str("source", src.Name).
		Int("seen", result.Seen).
		Int("new", result.New).
		Int("updated", result.Updated).
		Int("unchanged", result.Unchanged).
		Int("skipped", result.Skipped).
		Msg("Source run finished")
	return result
}

// fetchWithRetry retries transient fetch failures with exponential backoff.
func (r *Runner) fetchWithRetry(ctx context.Context, src models.Source) ([]normalize.Payload, error) {
	fetcher, ok := r.fetchers[src.Kind]
	if !ok {
		return nil, fmt.Errorf("no fetcher registered for source kind %q", src.Kind)
	}

	var payloads []normalize.Payload
	op := func() error {
		var err error
		payloads, err = fetcher.Fetch(ctx, src)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransient) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.InitialBackoff

	notify := func(err error, next time.Duration) {
		log.Warn().
			Err(err).
			Str("source", src.Name).
			Dur("retry_in", next).
			Msg("Fetch failed, retrying")
	}

	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, r.cfg.MaxRetries), ctx),
		notify)
	if err != nil {
		return nil, fmt.Errorf("fetch for source %s exhausted retries: %w", src.Name, err)
	}
	return payloads, nil
}
