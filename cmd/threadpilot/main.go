// Package main contains the entrypoint for the ThreadPilot backend.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/threadpilot/threadpilot/internal/api"
	"github.com/threadpilot/threadpilot/internal/app"
	"github.com/threadpilot/threadpilot/internal/app/tasks"
	"github.com/threadpilot/threadpilot/internal/auditlog"
	"github.com/threadpilot/threadpilot/internal/autoreply"
	"github.com/threadpilot/threadpilot/internal/config"
	"github.com/threadpilot/threadpilot/internal/database"
	"github.com/threadpilot/threadpilot/internal/gemini"
	"github.com/threadpilot/threadpilot/internal/logger"
	"github.com/threadpilot/threadpilot/internal/threads"
	"github.com/threadpilot/threadpilot/internal/webhook"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes all components, starts the application, and returns an
// exit code (0 for success, 1 for failure).
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Logger.Level, cfg.Logger.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON)

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Error("Failed to connect to database", "path", cfg.Database.Path, "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	generator, err := gemini.NewClient(ctx, cfg.Gemini, log)
	if err != nil {
		log.Error("Failed to initialize Gemini client", "error", err)
		return 1
	}

	threadsClient := threads.NewClient(cfg.Threads, log)
	audit := auditlog.NewRecorder(store, log)

	orch := autoreply.New(
		log, store, threadsClient, generator, audit,
		cfg.Webhook.QueueSize, cfg.Webhook.Workers, cfg.Gemini.Timeout,
	)
	webhookHandler := webhook.NewHandler(log, store, orch, cfg.Webhook, cfg.Threads.AppSecret)
	apiHandler := api.NewHandler(log, store, threadsClient, generator, audit)

	taskRegistry := tasks.RegisterAllTasks(tasks.TaskDeps{
		Logger: log,
		Store:  store,
		Config: cfg,
	})
	sched, err := app.NewScheduler(log, &cfg.Scheduler, taskRegistry)
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	a := app.NewApp(log, cfg, db, store, orch, webhookHandler, apiHandler, sched)

	log.Info("Starting ThreadPilot...")
	runErr := a.Run(ctx)
	log.Info("Run loop finished. Initiating shutdown...")

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Application stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Application stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}
