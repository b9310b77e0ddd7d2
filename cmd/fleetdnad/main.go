// Command fleetdnad is the FleetDNA server daemon. It wires the catalog
// and queue stores, the inference provider, the workers and pipelines,
// the periodic drain, and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/config"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/internal/version"
	"github.com/fleetdna/fleetdna/pipeline"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/server"
	"github.com/fleetdna/fleetdna/worker"
)

var configPath = flag.String("config", "fleetdna.yaml", "path to config file")

func main() {
	flag.Parse()

	// .env is optional; real deployments use the environment directly.
	_ = godotenv.Load()

	cfg := loadConfig(*configPath)
	logger := newLogger(cfg.LogLevel)

	logger.Info("starting fleetdnad",
		"version", version.Version,
		"commit", version.Commit,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data dir %s: %v", cfg.DataDir, err)
	}

	catalogStore, err := catalog.NewSQLiteStore(filepath.Join(cfg.DataDir, "catalog.db"))
	if err != nil {
		log.Fatalf("Failed to open catalog store: %v", err)
	}
	defer catalogStore.Close() //nolint:errcheck

	queueStore, err := queue.NewSQLiteStore(filepath.Join(cfg.DataDir, "queue.db"))
	if err != nil {
		log.Fatalf("Failed to open queue store: %v", err)
	}
	defer queueStore.Close() //nolint:errcheck

	llm := provider.NewOpenAIProvider(provider.OpenAIConfig{
		APIKey:      cfg.Inference.APIKey,
		BaseURL:     cfg.Inference.BaseURL,
		Model:       cfg.Inference.FullModel,
		MaxTokens:   cfg.Inference.MaxTokens,
		Temperature: cfg.Inference.Temperature,
		HTTPClient:  &http.Client{Timeout: cfg.Inference.Timeout},
	})
	if cfg.Inference.APIKey == "" {
		logger.Warn("no inference API key configured; AI tasks will fail until one is set")
	}

	engine := dna.NewEngine(catalogStore)
	models := worker.Models{Fast: cfg.Inference.FastModel, Full: cfg.Inference.FullModel}
	classifier := worker.NewClassifier(catalogStore, engine, llm, models, logger)
	enricher := worker.NewEnricher(catalogStore, engine, llm, models, logger)
	describer := worker.NewDescriber(catalogStore, engine, llm, models, logger)
	similarity := worker.NewSimilarityWorker(catalogStore, engine, llm, models, logger)

	registry := worker.NewRegistry()
	registry.Register(classifier)
	registry.Register(enricher)
	registry.Register(describer)
	registry.Register(similarity)

	q := queue.NewService(queueStore, registry, logger)
	if cfg.Queue.MaxAttempts > 0 {
		q.MaxAttempts = cfg.Queue.MaxAttempts
	}
	orchestrator := pipeline.NewOrchestrator(catalogStore, engine, classifier, enricher, describer, similarity, q, logger)
	orchestrator.RegisterAll(registry)
	maintenance := pipeline.NewMaintenance(catalogStore, q, logger)

	ctx, cancel := context.WithCancel(context.Background())

	// Coalesced drain wake-ups: at most one outstanding signal, so a
	// burst of enqueues triggers one extra drain, not one per task.
	wake := make(chan struct{}, 1)
	q.Signal = func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				if _, err := q.Drain(ctx, cfg.Queue.BatchSize); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("drain failed", "error", err)
				}
			}
		}
	}()

	// The cron schedule backstops the wake-up signal and runs the daily
	// retention cleanup.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.Queue.DrainInterval), q.Signal); err != nil {
		log.Fatalf("Failed to schedule drain: %v", err)
	}
	if _, err := scheduler.AddFunc("0 3 * * *", func() {
		if _, _, err := q.Cleanup(cfg.Queue.RetentionDays); err != nil {
			logger.Error("cleanup failed", "error", err)
		}
	}); err != nil {
		log.Fatalf("Failed to schedule cleanup: %v", err)
	}
	scheduler.Start()

	srv := server.New(*cfg, version.Version, logger)
	srv.SetCatalog(catalogStore)
	srv.SetEngine(engine)
	srv.SetQueue(q)
	srv.SetOrchestrator(orchestrator)
	srv.SetMaintenance(maintenance)
	srv.SetWorkers(classifier, enricher, describer, similarity)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	<-scheduler.Stop().Done()
	cancel()
	wg.Wait()
	logger.Info("shutdown complete")
}

// loadConfig loads the YAML config, falling back to defaults (plus env)
// when the file does not exist.
func loadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg
	}
	if os.IsNotExist(err) || errors.Is(err, os.ErrNotExist) {
		return config.DefaultConfig()
	}
	log.Fatalf("Failed to load config %s: %v", path, err)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
