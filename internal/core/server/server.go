// Package server mounts the query routes and runs the HTTP listener.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/spatial-query/internal/core/config"
	"github.com/mohammed-shakir/spatial-query/internal/core/health"
	middleware "github.com/mohammed-shakir/spatial-query/internal/core/middleware"
	"github.com/mohammed-shakir/spatial-query/internal/core/router"
)

// Routes holds everything NewRouter mounts besides the query service.
type Routes struct {
	MetricsPath string
	Metrics     http.Handler
	Ready       map[string]health.Check
}

func NewRouter(logger *slog.Logger, svc router.QueryService, rt Routes) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rt.Ready))
	if rt.Metrics != nil {
		path := rt.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, rt.Metrics)
	}

	r.Get("/query", router.HandleQuery(logger, svc))
	r.Put("/queries/{name}", router.HandleSave(logger, svc))
	r.Get("/queries/{name}", router.HandleLoad(logger, svc))
	r.Delete("/queries/{name}", router.HandleDelete(logger, svc))
	r.Get("/stats/hot", router.HandleHot(logger, svc))
	return r
}

// Run serves handler on cfg.Addr until ctx is canceled.
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Query.Timeout + 30*time.Second,
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
