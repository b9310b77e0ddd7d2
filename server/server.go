// Package server implements the FleetDNA HTTP server: REST API over the
// catalog, fingerprint engine, workers, queue, and pipelines, with JWT
// auth and Prometheus metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/config"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/pipeline"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/worker"
)

// Server is the FleetDNA HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	store        catalog.Store
	engine       *dna.Engine
	queue        *queue.Service
	orchestrator *pipeline.Orchestrator
	maintenance  *pipeline.Maintenance
	classifier   *worker.Classifier
	enricher     *worker.Enricher
	describer    *worker.Describer
	similarity   *worker.SimilarityWorker

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret string

	startTime time.Time
	version   string
}

// New creates a new Server with the given config and logger.
func New(cfg config.Config, ver string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:       cfg,
		mux:       http.NewServeMux(),
		logger:    logger,
		startTime: time.Now(),
		version:   ver,
	}
}

// SetCatalog attaches the catalog store.
func (s *Server) SetCatalog(store catalog.Store) { s.store = store }

// SetEngine attaches the fingerprint engine.
func (s *Server) SetEngine(engine *dna.Engine) { s.engine = engine }

// SetQueue attaches the task queue service.
func (s *Server) SetQueue(q *queue.Service) { s.queue = q }

// SetOrchestrator attaches the pipeline orchestrator.
func (s *Server) SetOrchestrator(o *pipeline.Orchestrator) { s.orchestrator = o }

// SetMaintenance attaches the maintenance sweeps.
func (s *Server) SetMaintenance(m *pipeline.Maintenance) { s.maintenance = m }

// SetWorkers attaches the individual workers for the synchronous
// single-entity endpoints.
func (s *Server) SetWorkers(c *worker.Classifier, e *worker.Enricher, d *worker.Describer, sim *worker.SimilarityWorker) {
	s.classifier = c
	s.enricher = e
	s.describer = d
	s.similarity = sim
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	s.registerRoutes()

	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.logger.Info("server listening", slog.String("addr", addr))
	return s.httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	// Protected API — wrapped in auth middleware
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	apiMux.HandleFunc("GET /api/queue/stats", s.handleQueueStats)
	apiMux.HandleFunc("GET /api/queue/failed", s.handleQueueFailed)
	apiMux.HandleFunc("POST /api/queue/tasks", s.handleEnqueue)
	apiMux.HandleFunc("GET /api/queue/tasks/{id}", s.handleGetTask)
	apiMux.HandleFunc("POST /api/queue/drain", s.handleDrain)
	apiMux.HandleFunc("POST /api/queue/cleanup", s.handleCleanup)

	apiMux.HandleFunc("POST /api/pipelines/{name}/run", s.handlePipelineRun)
	apiMux.HandleFunc("POST /api/pipelines/{name}/batch", s.handlePipelineBatch)

	apiMux.HandleFunc("POST /api/entities", s.handleIntake)
	apiMux.HandleFunc("GET /api/entities/{id}/dna", s.handleFingerprint)
	apiMux.HandleFunc("GET /api/entities/{id}/dna/breakdown", s.handleBreakdown)
	apiMux.HandleFunc("GET /api/entities/{id}/completeness", s.handleCompleteness)
	apiMux.HandleFunc("GET /api/entities/{id}/similar", s.handleSimilar)
	apiMux.HandleFunc("GET /api/entities/{id}/audit", s.handleAudit)
	apiMux.HandleFunc("POST /api/entities/{id}/classify", s.handleClassify)
	apiMux.HandleFunc("POST /api/entities/{id}/enrich", s.handleEnrich)
	apiMux.HandleFunc("POST /api/entities/{id}/describe", s.handleDescribe)
	apiMux.HandleFunc("POST /api/entities/{id}/validate", s.handleValidate)
	apiMux.HandleFunc("POST /api/entities/{id}/seo", s.handleSEO)

	apiMux.HandleFunc("GET /api/inventory/analysis", s.handleInventoryAnalysis)

	apiMux.HandleFunc("POST /api/maintenance/classify-unclassified", s.handleClassifyUnclassified)
	apiMux.HandleFunc("POST /api/maintenance/reclassify-stale", s.handleReclassifyStale)
	apiMux.HandleFunc("POST /api/maintenance/describe-missing", s.handleDescribeMissing)

	s.mux.Handle("/api/", s.authMiddleware(apiMux))
}
