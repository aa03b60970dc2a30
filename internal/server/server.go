// Package server exposes the engine over HTTP: the ranked digest, lifecycle
// commands, run triggers and the item/source registries.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"techradar/engine/internal/config"
	"techradar/engine/internal/server/api"
)

const readHeaderTimeout = 10 * time.Second
const shutdownTimeout = 15 * time.Second

// RunServer starts the HTTP API and blocks until the context is cancelled or
// an interrupt signal arrives, then shuts down gracefully.
func RunServer(ctx context.Context, cfg *config.Config, handler *api.Handler) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", healthCheckHandler)

	mux.Handle("GET /v1/digest", protect(cfg.APIKey, handler.GetDigest))
	mux.Handle("POST /v1/digest/refresh", protect(cfg.APIKey, handler.RefreshDigest))
	mux.Handle("POST /v1/runs", protect(cfg.APIKey, handler.TriggerRun))
	mux.Handle("POST /v1/lifecycle", protect(cfg.APIKey, handler.Transition))
	mux.Handle("GET /v1/items", protect(cfg.APIKey, handler.GetItems))
	mux.Handle("GET /v1/sources", protect(cfg.APIKey, handler.GetSources))

	wrapped := requestLogger(log.Logger)(mux)

	srv := &http.Server{
		Addr:              cfg.ListenAddr(),
		Handler:           wrapped,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info().Msg("HTTP server stopped")
	return nil
}

// requestLogger builds the hlog middleware chain: per-request logger with
// request metadata and an access log line on completion.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chain := hlog.NewHandler(logger)(
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).Info().
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Msg("Request handled")
			})(
				hlog.MethodHandler("method")(
					hlog.URLHandler("url")(
						hlog.RemoteAddrHandler("ip")(
							hlog.UserAgentHandler("user_agent")(
								hlog.RequestIDHandler("request_id", "X-Request-Id")(
									next,
								),
							),
						),
					),
				),
			),
		)
		return chain
	}
}

// protect wraps a handler with API key authentication. An empty configured
// key disables authentication, which is intended for local development only.
func protect(apiKey string, next http.HandlerFunc) http.Handler {
	if apiKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provided := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			hlog.FromRequest(r).Warn().Msg("Rejected request with missing or invalid API key")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Error writing health check response")
	}
}
