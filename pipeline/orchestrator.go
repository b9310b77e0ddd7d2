package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/queue"
	"github.com/fleetdna/fleetdna/worker"
)

// ErrUnknownPipeline is returned for a pipeline name nothing is
// registered under.
var ErrUnknownPipeline = errors.New("unknown pipeline")

// Named pipelines.
const (
	Intake   = "intake"
	Quality  = "quality"
	Optimize = "optimize"
	Full     = "full"
)

// Names returns the available pipeline names.
func Names() []string { return []string{Intake, Quality, Optimize, Full} }

// Orchestrator builds and runs the named pipelines over the workers.
type Orchestrator struct {
	store      catalog.Store
	engine     *dna.Engine
	classifier *worker.Classifier
	enricher   *worker.Enricher
	describer  *worker.Describer
	similarity *worker.SimilarityWorker
	queue      *queue.Service
	log        *slog.Logger
}

// NewOrchestrator wires the orchestrator. The queue service may be nil
// when only synchronous runs are needed.
func NewOrchestrator(
	store catalog.Store,
	engine *dna.Engine,
	classifier *worker.Classifier,
	enricher *worker.Enricher,
	describer *worker.Describer,
	similarity *worker.SimilarityWorker,
	q *queue.Service,
	log *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		engine:     engine,
		classifier: classifier,
		enricher:   enricher,
		describer:  describer,
		similarity: similarity,
		queue:      q,
		log:        log,
	}
}

// Run executes the named pipeline synchronously for one subject and
// persists the run as the entity's last-pipeline metadata.
func (o *Orchestrator) Run(ctx context.Context, name, subjectID string) (*Report, error) {
	steps, err := o.steps(name)
	if err != nil {
		return nil, err
	}
	if _, err := o.store.GetEntity(subjectID); err != nil {
		return nil, err
	}

	report := runSteps(ctx, name, subjectID, steps)
	o.log.Info("pipeline run", "pipeline", name, "subject", subjectID,
		"run", report.RunID, "status", report.Status, "duration", report.Duration)

	if err := o.persistReport(subjectID, name, report); err != nil {
		return report, err
	}
	return report, nil
}

func (o *Orchestrator) persistReport(subjectID, name string, report *Report) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal pipeline report: %w", err)
	}
	if err := o.store.SetField(subjectID, catalog.FieldLastPipeline, name); err != nil {
		return err
	}
	if err := o.store.SetField(subjectID, catalog.FieldLastPipelineAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return o.store.SetField(subjectID, catalog.FieldPipelineReport, string(raw))
}

// Batch enqueues one pipeline task per subject instead of running
// synchronously; the queue's drain loop executes them later.
func (o *Orchestrator) Batch(name string, subjectIDs []string, priority int) (*queue.BulkResult, error) {
	if _, err := o.steps(name); err != nil {
		return nil, err
	}
	if o.queue == nil {
		return nil, errors.New("no queue configured for batch runs")
	}
	return o.queue.BulkEnqueue(queue.PipelineType(name), subjectIDs, nil, priority), nil
}

// RegisterAll registers one queue worker per named pipeline so queued
// pipeline tasks dispatch back into Run.
func (o *Orchestrator) RegisterAll(registry *worker.Registry) {
	for _, name := range Names() {
		registry.Register(&pipelineWorker{orchestrator: o, name: name})
	}
}

// pipelineWorker adapts one named pipeline to the queue worker interface.
type pipelineWorker struct {
	orchestrator *Orchestrator
	name         string
}

func (w *pipelineWorker) Type() string { return queue.PipelineType(w.name) }

func (w *pipelineWorker) Execute(ctx context.Context, subjectID string, _ json.RawMessage) (any, error) {
	report, err := w.orchestrator.Run(ctx, w.name, subjectID)
	if err != nil {
		return nil, err
	}
	if report.Status == RunFailed {
		return nil, fmt.Errorf("pipeline %s failed for %s", w.name, subjectID)
	}
	return report, nil
}

func (o *Orchestrator) steps(name string) ([]Step, error) {
	switch name {
	case Intake:
		return o.intakeSteps(), nil
	case Quality:
		return o.qualitySteps(), nil
	case Optimize:
		return o.optimizeSteps(), nil
	case Full:
		steps := o.intakeSteps()
		steps = append(steps, o.qualitySteps()...)
		return append(steps, o.optimizeSteps()...), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPipeline, name)
	}
}

// intake classifies a new entity, proposes enrichment, writes a
// description when one is missing, and recomputes the fingerprint.
func (o *Orchestrator) intakeSteps() []Step {
	return []Step{
		{Name: "classify", Required: true, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.classifier.Classify(ctx, rc.SubjectID, true)
		}},
		{Name: "enrich", Required: false, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.enricher.Enrich(ctx, rc.SubjectID)
		}},
		{Name: "describe", Required: false, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.describer.Describe(ctx, rc.SubjectID)
		}},
		{Name: "fingerprint", Required: true, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.engine.Fingerprint(rc.SubjectID)
		}},
	}
}

// quality reviews existing assignments and measures completeness.
func (o *Orchestrator) qualitySteps() []Step {
	return []Step{
		{Name: "validate", Required: true, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.classifier.Validate(ctx, rc.SubjectID)
		}},
		{Name: "completeness", Required: true, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.engine.Completeness(rc.SubjectID)
		}},
		{Name: "audit", Required: false, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return worker.Audit(o.store, rc.SubjectID)
		}},
	}
}

// optimize generates SEO metadata and persists cross-sell links.
func (o *Orchestrator) optimizeSteps() []Step {
	return []Step{
		{Name: "seo", Required: true, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			return o.describer.GenerateSEO(ctx, rc.SubjectID)
		}},
		{Name: "cross-sells", Required: false, Run: func(ctx context.Context, rc *RunContext) (any, error) {
			result, err := o.similarity.FindSimilar(ctx, rc.SubjectID, 0, 0)
			if err != nil {
				return nil, err
			}
			if len(result.IDs) > 0 {
				raw, err := json.Marshal(result.IDs)
				if err != nil {
					return nil, err
				}
				if err := o.store.SetField(rc.SubjectID, catalog.FieldCrossSells, string(raw)); err != nil {
					return nil, err
				}
			}
			return result, nil
		}},
	}
}
