package pipeline

import (
	"log/slog"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/worker"
)

// Maintenance runs inventory-wide sweeps by enqueueing batches of work.
type Maintenance struct {
	store catalog.Store
	queue *queue.Service
	log   *slog.Logger
}

// NewMaintenance creates the maintenance sweeps over a store and queue.
func NewMaintenance(store catalog.Store, q *queue.Service, log *slog.Logger) *Maintenance {
	return &Maintenance{store: store, queue: q, log: log}
}

// ClassifyUnclassified enqueues a classify task for every entity that
// has never been classified.
func (m *Maintenance) ClassifyUnclassified(priority int) (*queue.BulkResult, error) {
	ids, err := m.store.EntityIDsWithoutField(catalog.FieldClassifiedAt)
	if err != nil {
		return nil, err
	}
	result := m.queue.BulkEnqueue(worker.TypeClassify, ids, worker.ClassifyPayload{Apply: true}, priority)
	m.log.Info("classify sweep", "candidates", len(ids), "queued", result.Queued)
	return result, nil
}

// ReclassifyStale enqueues a classify task for every entity last
// classified more than maxAgeDays ago.
func (m *Maintenance) ReclassifyStale(maxAgeDays, priority int) (*queue.BulkResult, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
	ids, err := m.store.EntityIDsWithFieldBefore(catalog.FieldClassifiedAt, cutoff)
	if err != nil {
		return nil, err
	}
	result := m.queue.BulkEnqueue(worker.TypeClassify, ids, worker.ClassifyPayload{Apply: true}, priority)
	m.log.Info("reclassify sweep", "max_age_days", maxAgeDays,
		"candidates", len(ids), "queued", result.Queued)
	return result, nil
}

// DescribeMissing enqueues a describe task for every entity without a
// description.
func (m *Maintenance) DescribeMissing(priority int) (*queue.BulkResult, error) {
	ids, err := m.store.ListEntityIDs(0)
	if err != nil {
		return nil, err
	}
	var missing []string
	for _, id := range ids {
		e, err := m.store.GetEntity(id)
		if err != nil {
			return nil, err
		}
		if e.Description == "" {
			missing = append(missing, id)
		}
	}
	result := m.queue.BulkEnqueue(worker.TypeDescribe, missing, nil, priority)
	m.log.Info("describe sweep", "candidates", len(missing), "queued", result.Queued)
	return result, nil
}
