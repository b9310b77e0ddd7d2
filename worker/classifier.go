package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/taxonomy"
)

// candidateTermLimit bounds the candidate list per dimension so the
// request stays within the inference payload limits.
const candidateTermLimit = 50

const classifySystemPrompt = `You are a vehicle catalog classification expert. Classify the vehicle against the attribute dimensions provided.

Rules:
- Assign terms ONLY from the candidate lists given for each dimension. Never invent terms.
- Never fabricate identity data such as VINs, serial numbers, or prices.
- The "models" dimension is primary: classify it first whenever the model is inferable.
- Skip any dimension you cannot determine from the data given.
- Respond with JSON: {"dimensions": {"<slug>": {"terms": ["..."], "confidence": 0.0, "reasoning": "..."}}, "reasoning": "..."}`

// Classifier assigns an entity to terms across the attribute dimensions
// via one full-tier inference call.
type Classifier struct {
	store  catalog.Store
	engine *dna.Engine
	llm    provider.Provider
	models Models
	log    *slog.Logger
}

// NewClassifier creates a classifier over the given store and provider.
func NewClassifier(store catalog.Store, engine *dna.Engine, llm provider.Provider, models Models, log *slog.Logger) *Classifier {
	return &Classifier{store: store, engine: engine, llm: llm, models: models, log: log}
}

// DimensionResult is the classification outcome for one dimension.
type DimensionResult struct {
	Terms      []string `json:"terms"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// ClassificationResult is the parsed outcome of one classify call.
type ClassificationResult struct {
	Dimensions map[string]DimensionResult `json:"dimensions"`
	Reasoning  string                     `json:"reasoning,omitempty"`
	Applied    bool                       `json:"applied"`
}

// ClassifyPayload is the task payload for the classify task type.
type ClassifyPayload struct {
	Apply bool `json:"apply"`
}

func (c *Classifier) Type() string { return TypeClassify }

// Execute implements Worker. Queued classifications apply by default
// unless the payload says otherwise.
func (c *Classifier) Execute(ctx context.Context, subjectID string, payload json.RawMessage) (any, error) {
	p := ClassifyPayload{Apply: true}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: classify payload: %v", ErrBadResponse, err)
		}
	}
	return c.Classify(ctx, subjectID, p.Apply)
}

// Classify runs one classification. The raw result and a timestamp are
// persisted on the entity regardless of apply; when apply is true the
// assignments are merged additively and the fingerprint recomputed.
func (c *Classifier) Classify(ctx context.Context, subjectID string, apply bool) (*ClassificationResult, error) {
	entity, err := c.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}

	doc, err := c.contextDocument(entity)
	if err != nil {
		return nil, err
	}
	candidates, err := c.candidateLists()
	if err != nil {
		return nil, err
	}

	var result ClassificationResult
	if err := askJSON(ctx, c.llm, c.models.Full, classifySystemPrompt, doc+"\n\n"+candidates, &result); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal classification: %w", err)
	}
	if err := c.store.SetField(subjectID, catalog.FieldClassification, string(raw)); err != nil {
		return nil, err
	}
	if err := c.store.SetField(subjectID, catalog.FieldClassifiedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	if apply {
		if err := c.applyResult(subjectID, &result); err != nil {
			return nil, err
		}
		result.Applied = true
	}

	c.log.Info("classified entity", "subject", subjectID,
		"dimensions", len(result.Dimensions), "applied", result.Applied)
	return &result, nil
}

// applyResult merges the classified terms additively, restricted to
// terms that appeared in the candidate lists, then recomputes the
// fingerprint and completeness.
func (c *Classifier) applyResult(subjectID string, result *ClassificationResult) error {
	for slug, dr := range result.Dimensions {
		dim, ok := taxonomy.BySlug(slug)
		if !ok || len(dr.Terms) == 0 {
			continue
		}
		allowed, err := c.allowedTerms(dim.Slug)
		if err != nil {
			return err
		}
		var termIDs []string
		for _, name := range dr.Terms {
			if !allowed[strings.ToLower(strings.TrimSpace(name))] {
				continue
			}
			term, err := c.store.ResolveOrCreateTerm(dim.Slug, name)
			if err != nil {
				return fmt.Errorf("resolve term %q in %s: %w", name, dim.Slug, err)
			}
			termIDs = append(termIDs, term.ID)
		}
		if len(termIDs) == 0 {
			continue
		}
		if err := c.store.AssignTerms(subjectID, dim.Slug, termIDs, true); err != nil {
			return fmt.Errorf("assign terms in %s: %w", dim.Slug, err)
		}
	}

	if _, err := c.engine.Fingerprint(subjectID); err != nil {
		return err
	}
	_, err := c.engine.Completeness(subjectID)
	return err
}

func (c *Classifier) allowedTerms(dimension string) (map[string]bool, error) {
	names, err := c.store.TermNames(dimension, candidateTermLimit)
	if err != nil {
		return nil, err
	}
	allowed := make(map[string]bool, len(names))
	for _, n := range names {
		allowed[strings.ToLower(strings.TrimSpace(n))] = true
	}
	return allowed, nil
}

// contextDocument builds the vehicle description given to the model:
// scalar identity fields plus any existing assignments.
func (c *Classifier) contextDocument(entity *catalog.Entity) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", entity.Name)
	if entity.SKU != "" {
		fmt.Fprintf(&b, "SKU: %s\n", entity.SKU)
	}
	if p := entity.Price(); p > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", p)
	}
	if entity.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", entity.Description)
	}

	for _, key := range []string{
		catalog.FieldVIN, catalog.FieldSerial, catalog.FieldYear,
		catalog.FieldCondition, catalog.FieldStreetLegal, catalog.FieldElectric,
	} {
		v, err := c.store.GetField(entity.ID, key)
		if err != nil {
			return "", err
		}
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}

	b.WriteString("\nExisting assignments:\n")
	for _, dim := range taxonomy.Dimensions() {
		terms, err := c.store.Terms(entity.ID, dim.Slug)
		if err != nil {
			return "", err
		}
		if len(terms) == 0 {
			continue
		}
		names := make([]string, len(terms))
		for i, t := range terms {
			names[i] = t.Name
		}
		fmt.Fprintf(&b, "- %s: %s\n", dim.Slug, strings.Join(names, ", "))
	}
	return b.String(), nil
}

// candidateLists renders the bounded per-dimension term vocabulary.
// Dimensions with no terms yet are listed as open so the model still
// reports what it sees; those answers are not applied.
func (c *Classifier) candidateLists() (string, error) {
	var b strings.Builder
	b.WriteString("Candidate terms per dimension:\n")
	for _, dim := range taxonomy.Dimensions() {
		names, err := c.store.TermNames(dim.Slug, candidateTermLimit)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s (%s): %s\n", dim.Slug, dim.Label, strings.Join(names, ", "))
	}
	return b.String(), nil
}

// BatchOutcome is one entry of a batch classification.
type BatchOutcome struct {
	Result *ClassificationResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// ClassifyBatch classifies every subject, collecting a per-id outcome.
// Individual failures never short-circuit the batch.
func (c *Classifier) ClassifyBatch(ctx context.Context, subjectIDs []string, apply bool) map[string]BatchOutcome {
	out := make(map[string]BatchOutcome, len(subjectIDs))
	for _, id := range subjectIDs {
		result, err := c.Classify(ctx, id, apply)
		if err != nil {
			out[id] = BatchOutcome{Error: err.Error()}
			continue
		}
		out[id] = BatchOutcome{Result: result}
	}
	return out
}

const validateSystemPrompt = `You are a vehicle catalog quality reviewer. Review the vehicle's attribute assignments for internal consistency and obvious mistakes (wrong manufacturer for the model, contradictory drivetrain or power source, impossible year).

Respond with JSON: {"valid": true, "issues": [{"dimension": "...", "issue": "...", "suggestion": "..."}]}`

// ValidationIssue is one problem found in existing assignments.
type ValidationIssue struct {
	Dimension  string `json:"dimension"`
	Issue      string `json:"issue"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationResult reports whether existing assignments look consistent.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Validate reviews the entity's current assignments on the fast tier.
// Read-only; nothing is persisted.
func (c *Classifier) Validate(ctx context.Context, subjectID string) (*ValidationResult, error) {
	entity, err := c.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}
	doc, err := c.contextDocument(entity)
	if err != nil {
		return nil, err
	}

	var result ValidationResult
	if err := askJSON(ctx, c.llm, c.models.Fast, validateSystemPrompt, doc, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
