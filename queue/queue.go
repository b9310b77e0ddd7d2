package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/worker"
)

// DefaultRetentionDays is how long finished tasks are kept before the
// cleanup sweep deletes them.
const DefaultRetentionDays = 7

// stallCutoff is how long a task may sit in processing before the
// cleanup sweep considers it orphaned and releases it.
const stallCutoff = time.Hour

// Service owns the task queue: enqueueing, draining, retry policy, and
// retention. All state lives in the injected store; there are no
// package-level queue globals.
type Service struct {
	store    *SQLiteStore
	registry *worker.Registry
	log      *slog.Logger

	// MaxAttempts is the attempt budget stamped on every task this
	// service enqueues.
	MaxAttempts int

	// Signal, when set, is called after an enqueue and after a drain
	// that left pending work behind, so the scheduler can wake another
	// drain without busy polling. The daemon installs a coalescing
	// implementation.
	Signal func()
}

// NewService creates a queue service over the given store and worker
// registry.
func NewService(store *SQLiteStore, registry *worker.Registry, log *slog.Logger) *Service {
	return &Service{store: store, registry: registry, log: log, MaxAttempts: DefaultMaxAttempts}
}

// Enqueue creates one pending task. The payload is marshaled to JSON;
// pass nil for task types without input.
func (s *Service) Enqueue(taskType, subjectID string, payload any, priority int) (*Task, error) {
	t := &Task{Type: taskType, SubjectID: subjectID, Priority: priority, MaxAttempts: s.MaxAttempts}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		t.Payload = raw
	}
	if _, err := s.store.Create(t); err != nil {
		return nil, err
	}

	tasksEnqueued.WithLabelValues(taskType).Inc()
	s.log.Debug("task enqueued", "task", t.ID, "type", taskType, "subject", subjectID, "priority", t.Priority)
	s.wake()
	return t, nil
}

// BulkResult reports the outcome of a batch enqueue.
type BulkResult struct {
	Queued  int               `json:"queued"`
	TaskIDs []string          `json:"task_ids"`
	Failed  map[string]string `json:"failed,omitempty"`
}

// BulkEnqueue creates one task per subject, collecting per-subject
// failures instead of aborting the batch.
func (s *Service) BulkEnqueue(taskType string, subjectIDs []string, payload any, priority int) *BulkResult {
	result := &BulkResult{Failed: make(map[string]string)}
	for _, id := range subjectIDs {
		t, err := s.Enqueue(taskType, id, payload, priority)
		if err != nil {
			result.Failed[id] = err.Error()
			continue
		}
		result.Queued++
		result.TaskIDs = append(result.TaskIDs, t.ID)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result
}

// DrainReport summarizes one drain invocation.
type DrainReport struct {
	Processed int           `json:"processed"`
	Completed int           `json:"completed"`
	Retried   int           `json:"retried"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Drain executes up to batchSize pending tasks, strictly sequentially,
// in priority-then-age order. Each task is atomically claimed first, so
// overlapping drains never double-process a task. When pending work
// remains afterwards the wake-up signal is fired.
func (s *Service) Drain(ctx context.Context, batchSize int) (*DrainReport, error) {
	start := time.Now()
	report := &DrainReport{}

	tasks, err := s.store.NextPending(batchSize)
	if err != nil {
		return nil, err
	}

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		claimed, err := s.store.Claim(t.ID)
		if err != nil {
			return nil, err
		}
		if !claimed {
			continue
		}
		t.Attempts++
		report.Processed++
		s.dispatch(ctx, t, report)
	}

	report.Duration = time.Since(start)
	drainDuration.Observe(report.Duration.Seconds())
	s.updateDepthGauges()

	if report.Processed > 0 {
		s.log.Info("drain finished", "processed", report.Processed,
			"completed", report.Completed, "retried", report.Retried,
			"failed", report.Failed, "duration", report.Duration)
	}

	pending, err := s.store.PendingCount()
	if err != nil {
		return report, err
	}
	if pending > 0 {
		s.wake()
	}
	return report, nil
}

// dispatch runs one claimed task and records its outcome. The queue is
// the sole authority on retry versus terminal: not-found subjects and
// unconfigured inference fail immediately, other errors retry until the
// attempt budget runs out.
func (s *Service) dispatch(ctx context.Context, t *Task, report *DrainReport) {
	w, ok := s.registry.Get(t.Type)
	if !ok {
		s.fail(t, report, fmt.Sprintf("no worker for task type %q", t.Type))
		return
	}

	result, err := s.execute(ctx, w, t)
	if err == nil {
		raw, merr := json.Marshal(result)
		if merr != nil {
			s.fail(t, report, fmt.Sprintf("marshal result: %v", merr))
			return
		}
		if serr := s.store.MarkCompleted(t.ID, raw); serr != nil {
			s.log.Error("mark completed", "task", t.ID, "error", serr)
			return
		}
		report.Completed++
		tasksProcessed.WithLabelValues(t.Type, outcomeCompleted).Inc()
		return
	}

	if isTerminal(err) || t.Attempts >= t.MaxAttempts {
		s.fail(t, report, err.Error())
		return
	}

	if serr := s.store.ReleaseForRetry(t.ID, err.Error()); serr != nil {
		s.log.Error("release for retry", "task", t.ID, "error", serr)
		return
	}
	report.Retried++
	tasksProcessed.WithLabelValues(t.Type, outcomeRetried).Inc()
	s.log.Warn("task released for retry", "task", t.ID, "type", t.Type,
		"attempts", t.Attempts, "error", err)
}

// execute runs the worker with panic containment, so one bad task never
// takes the drain loop down with it.
func (s *Service) execute(ctx context.Context, w worker.Worker, t *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return w.Execute(ctx, t.SubjectID, t.Payload)
}

func (s *Service) fail(t *Task, report *DrainReport, msg string) {
	if err := s.store.MarkFailed(t.ID, msg); err != nil {
		s.log.Error("mark failed", "task", t.ID, "error", err)
		return
	}
	report.Failed++
	tasksProcessed.WithLabelValues(t.Type, outcomeFailed).Inc()
	s.log.Warn("task failed", "task", t.ID, "type", t.Type,
		"subject", t.SubjectID, "attempts", t.Attempts, "error", msg)
}

// isTerminal reports whether the error can never be cured by a retry.
func isTerminal(err error) bool {
	return errors.Is(err, catalog.ErrNotFound) ||
		errors.Is(err, provider.ErrNotConfigured)
}

// Cleanup deletes finished tasks older than the retention window and
// releases tasks stuck in processing for over an hour.
func (s *Service) Cleanup(retentionDays int) (deleted, released int64, err error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	deleted, err = s.store.DeleteOlderThan(cutoff)
	if err != nil {
		return 0, 0, err
	}
	released, err = s.store.ReleaseStuck(time.Now().UTC().Add(-stallCutoff))
	if err != nil {
		return deleted, 0, err
	}
	if deleted > 0 || released > 0 {
		s.log.Info("queue cleanup", "deleted", deleted, "released", released)
	}
	s.updateDepthGauges()
	return deleted, released, nil
}

// Stats returns the task count per status.
func (s *Service) Stats() (map[Status]int, error) {
	return s.store.CountByStatus()
}

// Task returns one task by ID.
func (s *Service) Task(id string) (*Task, error) {
	return s.store.Get(id)
}

// Failed returns the most recent failed tasks for inspection.
func (s *Service) Failed(limit int) ([]*Task, error) {
	return s.store.List(StatusFailed, limit)
}

func (s *Service) wake() {
	if s.Signal != nil {
		s.Signal()
	}
}

func (s *Service) updateDepthGauges() {
	counts, err := s.store.CountByStatus()
	if err != nil {
		return
	}
	for status, n := range counts {
		queueDepth.WithLabelValues(string(status)).Set(float64(n))
	}
}
