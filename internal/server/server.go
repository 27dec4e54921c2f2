// Package server exposes the tile engine over HTTP: binary raster tiles,
// layer metadata, health, and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router wires the engine's routes into a chi handler.
func Router(e *Engine) http.Handler {
	r := chi.NewRouter()
	r.Use(recoverPanic())
	r.Use(logging(e.Log))
	r.Use(cors())

	r.Get("/healthz", liveness())
	r.Get("/readyz", readiness(e))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/layers", e.handleLayers())
	r.Get("/tiles/elevation/{z}/{x}/{y}", e.handleElevation())
	r.Get("/tiles/elevation/{layer}/{z}/{x}/{y}", e.handleElevationLayer())
	r.Get("/tiles/imagery/{layer}/{z}/{x}/{y}", e.handleImagery())
	return r
}

// Run serves until the context is cancelled.
func Run(ctx context.Context, addr string, e *Engine) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Router(e),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.Log.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
