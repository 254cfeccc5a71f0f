// Package app wires the HTTP server, the auto-reply worker pool, and the
// scheduler together and manages their shared lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/threadpilot/threadpilot/internal/api"
	"github.com/threadpilot/threadpilot/internal/autoreply"
	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/logger"
	"github.com/threadpilot/threadpilot/internal/webhook"
)

// App owns the long-running components and coordinates their startup and
// graceful shutdown.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	db        *sqlx.DB
	store     database.Store
	orch      *autoreply.Orchestrator
	scheduler *Scheduler
	server    *http.Server
}

// NewApp assembles the HTTP router and server around the prepared
// components. The gin engine is built here so handlers stay free of
// server concerns.
func NewApp(
	log *slog.Logger,
	cfg *config.Config,
	db *sqlx.DB,
	store database.Store,
	orch *autoreply.Orchestrator,
	webhookHandler *webhook.Handler,
	apiHandler *api.Handler,
	scheduler *Scheduler,
) *App {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), logger.Middleware(log))

	webhookHandler.Register(router)
	apiHandler.Register(router)

	router.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		logger:    log.With("component", "app"),
		cfg:       cfg,
		db:        db,
		store:     store,
		orch:      orch,
		scheduler: scheduler,
		server:    server,
	}
}

// Run starts the HTTP server, the auto-reply workers, and the scheduler,
// and blocks until the context is cancelled or a component fails. Shutdown
// drains the HTTP server within the configured timeout; queued events that
// have not been picked up by a worker are abandoned.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("Starting application...")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("Starting HTTP server", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed", "error", err)
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error during HTTP server shutdown", "error", err)
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.orch.Run(gCtx)
	})

	g.Go(func() error {
		a.logger.Info("Starting scheduler...")
		if err := a.scheduler.Start(); err != nil {
			a.logger.Error("Failed to start scheduler", "error", err)
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("Shutdown signal received, stopping scheduler...")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	a.logger.Info("Application running. Waiting for shutdown signal or error...")
	err := g.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("Application stopped due to error", "error", err)
		return err
	}

	a.logger.Info("Application stopped gracefully.")
	return nil
}
