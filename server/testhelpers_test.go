package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/config"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/pipeline"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/provider/mock"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/worker"
)

// newTestServer builds a fully wired server over temp SQLite stores and
// the given scripted provider.
func newTestServer(t *testing.T, llm provider.Provider) (*Server, *catalog.SQLiteStore) {
	t.Helper()
	if llm == nil {
		llm = mock.New()
	}

	store, err := catalog.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("catalog store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	qstore, err := queue.NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("queue store: %v", err)
	}
	t.Cleanup(func() { _ = qstore.Close() })

	log := slog.New(slog.DiscardHandler)
	engine := dna.NewEngine(store)
	models := worker.Models{Fast: "fast", Full: "full"}
	classifier := worker.NewClassifier(store, engine, llm, models, log)
	enricher := worker.NewEnricher(store, engine, llm, models, log)
	describer := worker.NewDescriber(store, engine, llm, models, log)
	similarity := worker.NewSimilarityWorker(store, engine, llm, models, log)

	registry := worker.NewRegistry()
	registry.Register(classifier)
	registry.Register(enricher)
	registry.Register(describer)
	registry.Register(similarity)

	q := queue.NewService(qstore, registry, log)
	o := pipeline.NewOrchestrator(store, engine, classifier, enricher, describer, similarity, q, log)
	o.RegisterAll(registry)

	cfg := *config.DefaultConfig()
	cfg.Auth.AdminPass = "secret"
	cfg.Auth.JWTSecret = "test-secret-key-1234567890"

	s := New(cfg, "test", log)
	s.SetCatalog(store)
	s.SetEngine(engine)
	s.SetQueue(q)
	s.SetOrchestrator(o)
	s.SetMaintenance(pipeline.NewMaintenance(store, q, log))
	s.SetWorkers(classifier, enricher, describer, similarity)
	s.registerRoutes()
	return s, store
}

// login returns a bearer token for the test admin user.
func login(t *testing.T, s *Server) string {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		bytes.NewBufferString(`{"username":"admin","password":"secret"}`))
	s.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.Token
}

// doJSON performs an authenticated request and decodes the response.
func doJSON(t *testing.T, s *Server, token, method, path, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.mux.ServeHTTP(rr, req)
	if out != nil && rr.Code < 300 {
		if err := json.NewDecoder(rr.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return rr
}
