// Package worker implements the AI operations run against catalog
// entities: classification against the attribute taxonomy, enrichment of
// missing attributes, description and SEO generation, and similarity
// search. Each worker is registered by task type and dispatched by the
// queue's drain loop.
package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Task types handled by the workers in this package. Pipelines register
// under a "pipeline:" prefixed type.
const (
	TypeClassify   = "classify"
	TypeEnrich     = "enrich"
	TypeDescribe   = "describe"
	TypeSimilarity = "similarity"
)

// Models names the two inference tiers: a fast low-latency model for
// lightweight tasks (similarity ranking, SEO, validation) and a full
// higher-accuracy model for classification and enrichment.
type Models struct {
	Fast string
	Full string
}

// Worker executes one type of queued task against a subject entity.
type Worker interface {
	// Type returns the task type this worker handles.
	Type() string

	// Execute runs the operation for the subject. The payload is the
	// task's structured input; workers tolerate an empty payload.
	Execute(ctx context.Context, subjectID string, payload json.RawMessage) (any, error)
}

// Registry maps task types to workers.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]Worker)}
}

// Register adds a worker, replacing any previous worker of the same type.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workers[w.Type()] = w
}

// Get returns the worker for a task type.
func (r *Registry) Get(taskType string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[taskType]
	return w, ok
}

// Types returns the registered task types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.workers))
	for t := range r.workers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
