// Package pipeline composes the workers into named multi-step workflows
// with required-versus-optional step semantics and per-step reporting.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepStatus is the lifecycle state of one pipeline step.
type StepStatus string

// Step states.
const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Run statuses. A run fails iff a required step fails.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// RunContext carries the accumulated step outputs through a run. Steps
// read prior outputs by step name.
type RunContext struct {
	SubjectID string
	Outputs   map[string]any
}

// Step is one unit of a pipeline.
type Step struct {
	Name     string
	Required bool
	Run      func(ctx context.Context, rc *RunContext) (any, error)
}

// StepReport records one step's outcome.
type StepReport struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	Required bool          `json:"required"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report is the outcome of one pipeline run.
type Report struct {
	RunID     string        `json:"run_id"`
	Pipeline  string        `json:"pipeline"`
	SubjectID string        `json:"subject_id"`
	Status    string        `json:"status"`
	Steps     []StepReport  `json:"steps"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// runSteps executes the steps strictly in order. A failed required step
// aborts the run and marks the remaining steps skipped; failed optional
// steps are recorded and execution continues.
func runSteps(ctx context.Context, pipeline, subjectID string, steps []Step) *Report {
	report := &Report{
		RunID:     uuid.NewString(),
		Pipeline:  pipeline,
		SubjectID: subjectID,
		Status:    RunCompleted,
		StartedAt: time.Now().UTC(),
	}
	rc := &RunContext{SubjectID: subjectID, Outputs: make(map[string]any)}

	aborted := false
	for _, step := range steps {
		sr := StepReport{Name: step.Name, Required: step.Required}
		if aborted {
			sr.Status = StepSkipped
			report.Steps = append(report.Steps, sr)
			continue
		}

		start := time.Now()
		out, err := runStep(ctx, step, rc)
		sr.Duration = time.Since(start)

		if err != nil {
			sr.Status = StepFailed
			sr.Error = err.Error()
			if step.Required {
				report.Status = RunFailed
				aborted = true
			}
		} else {
			sr.Status = StepCompleted
			rc.Outputs[step.Name] = out
		}
		report.Steps = append(report.Steps, sr)
	}

	report.Duration = time.Since(report.StartedAt)
	return report
}

// runStep contains a step panic so a crashing optional step cannot take
// the whole run down.
func runStep(ctx context.Context, step Step, rc *RunContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return step.Run(ctx, rc)
}
