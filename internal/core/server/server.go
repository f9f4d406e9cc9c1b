package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/config"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/health"
	middleware "github.com/mohammed-shakir/exec-insight-cache/internal/core/middleware"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/router"
)

type Deps struct {
	Insights router.InsightService
	Status   router.StatusReporter
	Store    health.Pinger
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// Consumer is the optional KPI update consumer.
	Consumer health.ConsumerReporter
}

// NewHandler builds the chi router with all routes mounted.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Store, cfg.CacheOpTimeout))
	if d.Consumer != nil {
		r.Get("/readyz/consumer", health.ConsumerReadiness(d.Consumer))
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}
	r.Post(router.RouteInsight, router.HandleInsight(logger, d.Insights))
	r.Get(router.RouteOpsState, router.HandleOpsStatus(d.Status))
	return r
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// generation may take two attempts
		WriteTimeout: 2*cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
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
