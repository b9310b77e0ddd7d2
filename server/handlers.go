package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/pipeline"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/taxonomy"
	"github.com/fleetdna/fleetdna/worker"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, queue.ErrTaskNotFound),
		errors.Is(err, pipeline.ErrUnknownPipeline):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, provider.ErrNotConfigured):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, worker.ErrUpstream), errors.Is(err, worker.ErrBadResponse):
		writeJSONError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// priorityOrDefault resolves an optional priority field. Zero is a
// real value (most urgent), so only an absent field gets the default.
func priorityOrDefault(p *int) int {
	if p == nil {
		return queue.DefaultPriority
	}
	return *p
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"uptime":     time.Since(s.startTime).String(),
		"dimensions": taxonomy.Count(),
		"pipelines":  pipeline.Names(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- queue ---

func (s *Server) handleQueueStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.queue.Stats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleQueueFailed(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.queue.Failed(queryInt(r, "limit", 50))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

// enqueueRequest accepts a single subject or a batch.
type enqueueRequest struct {
	TaskType   string          `json:"task_type"`
	SubjectID  string          `json:"subject_id,omitempty"`
	SubjectIDs []string        `json:"subject_ids,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Priority   *int            `json:"priority,omitempty"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TaskType == "" {
		writeJSONError(w, http.StatusBadRequest, "task_type is required")
		return
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	priority := priorityOrDefault(req.Priority)
	if len(req.SubjectIDs) > 0 {
		result := s.queue.BulkEnqueue(req.TaskType, req.SubjectIDs, payload, priority)
		writeJSON(w, http.StatusAccepted, result)
		return
	}
	if req.SubjectID == "" {
		writeJSONError(w, http.StatusBadRequest, "subject_id or subject_ids is required")
		return
	}
	task, err := s.queue.Enqueue(req.TaskType, req.SubjectID, payload, priority)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.queue.Task(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		BatchSize int `json:"batch_size"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.cfg.Queue.BatchSize
	}
	report, err := s.queue.Drain(r.Context(), req.BatchSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RetentionDays int `json:"retention_days"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RetentionDays <= 0 {
		req.RetentionDays = s.cfg.Queue.RetentionDays
	}
	deleted, released, err := s.queue.Cleanup(req.RetentionDays)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted, "released": released})
}

// --- pipelines ---

func (s *Server) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectID string `json:"subject_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SubjectID == "" {
		writeJSONError(w, http.StatusBadRequest, "subject_id is required")
		return
	}
	report, err := s.orchestrator.Run(r.Context(), r.PathValue("name"), req.SubjectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePipelineBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubjectIDs []string `json:"subject_ids"`
		Priority   *int     `json:"priority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.SubjectIDs) == 0 {
		writeJSONError(w, http.StatusBadRequest, "subject_ids is required")
		return
	}
	result, err := s.orchestrator.Batch(r.PathValue("name"), req.SubjectIDs, priorityOrDefault(req.Priority))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// --- entities ---

func (s *Server) handleIntake(w http.ResponseWriter, r *http.Request) {
	var rec catalog.FeedRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid feed record")
		return
	}
	result, err := catalog.Import(s.store, rec)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	fp, err := s.engine.Fingerprint(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fp)
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.engine.Breakdown(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dimensions": breakdown})
}

func (s *Server) handleCompleteness(w http.ResponseWriter, r *http.Request) {
	score, err := s.engine.Completeness(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"completeness": score})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	result, err := s.similarity.FindSimilar(r.Context(), r.PathValue("id"),
		queryInt(r, "count", 0), queryInt(r, "match_dimensions", 0))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	result, err := worker.Audit(s.store, r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	req := worker.ClassifyPayload{Apply: true}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.classifier.Classify(r.Context(), r.PathValue("id"), req.Apply)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	result, err := s.enricher.Enrich(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	result, err := s.describer.Describe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	result, err := s.classifier.Validate(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSEO(w http.ResponseWriter, r *http.Request) {
	result, err := s.describer.GenerateSEO(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- inventory ---

func (s *Server) handleInventoryAnalysis(w http.ResponseWriter, _ *http.Request) {
	analysis, err := worker.AnalyzeInventory(s.store)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// --- maintenance ---

func (s *Server) handleClassifyUnclassified(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *int `json:"priority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.maintenance.ClassifyUnclassified(priorityOrDefault(req.Priority))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleReclassifyStale(w http.ResponseWriter, r *http.Request) {
	req := struct {
		MaxAgeDays int  `json:"max_age_days"`
		Priority   *int `json:"priority"`
	}{MaxAgeDays: 30}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.maintenance.ReclassifyStale(req.MaxAgeDays, priorityOrDefault(req.Priority))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleDescribeMissing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Priority *int `json:"priority"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := s.maintenance.DescribeMissing(priorityOrDefault(req.Priority))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
