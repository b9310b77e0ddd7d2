// Package queue implements the durable task queue that schedules and
// retries the AI operations. It owns the whole retry policy: workers
// report errors, the queue decides whether a task comes back.
package queue

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrTaskNotFound is returned when the requested task does not exist.
var ErrTaskNotFound = errors.New("task not found")

// Status is the lifecycle state of a task.
type Status string

// Task states. A task moves pending -> processing -> completed or
// failed; processing reverts to pending on a recoverable error with
// retry budget left.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// DefaultMaxAttempts is the retry budget given to new tasks.
const DefaultMaxAttempts = 3

// DefaultPriority is the priority the API applies when a request omits
// the field. Lower numbers are served first; zero is a valid value and
// the most urgent, so the queue itself never rewrites it.
const DefaultPriority = 10

// pipelineTypePrefix marks tasks that run a named pipeline.
const pipelineTypePrefix = "pipeline:"

// PipelineType returns the task type for a queued pipeline run.
func PipelineType(name string) string { return pipelineTypePrefix + name }

// PipelineName extracts the pipeline name from a pipeline task type.
func PipelineName(taskType string) (string, bool) {
	if !strings.HasPrefix(taskType, pipelineTypePrefix) {
		return "", false
	}
	return strings.TrimPrefix(taskType, pipelineTypePrefix), true
}

// Task is one unit of queued work against a subject entity.
type Task struct {
	ID           string          `json:"id"`
	Type         string          `json:"task_type"`
	SubjectID    string          `json:"subject_id"`
	Status       Status          `json:"status"`
	Priority     int             `json:"priority"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}
