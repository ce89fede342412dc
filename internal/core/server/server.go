package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/wms-tilesource/internal/core/config"
	"github.com/mohammed-shakir/wms-tilesource/internal/core/health"
	middleware "github.com/mohammed-shakir/wms-tilesource/internal/core/middleware"
)

// Handler assembles the service routes around the tile routes.
func Handler(logger *slog.Logger, tiles http.Handler, readiness health.ReadinessReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(readiness))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Mount("/", tiles)
	return r
}

// Run serves until ctx is done, then drains in-flight tile requests.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, tiles http.Handler, readiness health.ReadinessReporter) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           Handler(logger, tiles, readiness),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("http shutdown", "addr", cfg.Addr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
