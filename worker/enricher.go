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

// completenessSkipThreshold is the score at or above which enrichment is
// skipped entirely.
const completenessSkipThreshold = 90.0

const enrichSystemPrompt = `You are a vehicle data specialist. For each listed dimension, propose the most likely value for this vehicle based on the data provided.

Rules:
- Only propose a value when you are at least 70% confident.
- Never fabricate identity data: serial numbers, VINs, or prices.
- Respond with JSON: {"suggestions": {"<slug>": {"value": "...", "confidence": 0.0, "reasoning": "..."}}}`

// Status values for EnrichmentResult.
const (
	EnrichStatusSuggested       = "suggested"
	EnrichStatusAlreadyComplete = "already_complete"
)

// Suggestion is one proposed value for an unassigned dimension.
type Suggestion struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// EnrichmentResult is the outcome of one enrich call. Suggestions are
// never auto-applied; callers decide what to write back.
type EnrichmentResult struct {
	Status       string                `json:"status"`
	Completeness float64               `json:"completeness"`
	Suggestions  map[string]Suggestion `json:"suggestions,omitempty"`
}

// Enricher proposes values for unassigned dimensions via the full tier.
type Enricher struct {
	store  catalog.Store
	engine *dna.Engine
	llm    provider.Provider
	models Models
	log    *slog.Logger
}

// NewEnricher creates an enricher over the given store and provider.
func NewEnricher(store catalog.Store, engine *dna.Engine, llm provider.Provider, models Models, log *slog.Logger) *Enricher {
	return &Enricher{store: store, engine: engine, llm: llm, models: models, log: log}
}

func (e *Enricher) Type() string { return TypeEnrich }

// Execute implements Worker.
func (e *Enricher) Execute(ctx context.Context, subjectID string, _ json.RawMessage) (any, error) {
	return e.Enrich(ctx, subjectID)
}

// Enrich proposes values for the entity's empty dimensions. Entities at
// or above the completeness threshold are skipped. The raw result and a
// timestamp are persisted on the entity.
func (e *Enricher) Enrich(ctx context.Context, subjectID string) (*EnrichmentResult, error) {
	entity, err := e.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}

	completeness, err := e.engine.Completeness(subjectID)
	if err != nil {
		return nil, err
	}
	if completeness >= completenessSkipThreshold {
		return &EnrichmentResult{
			Status:       EnrichStatusAlreadyComplete,
			Completeness: completeness,
		}, nil
	}

	missing, err := e.missingDimensions(subjectID)
	if err != nil {
		return nil, err
	}

	doc, err := e.contextDocument(entity)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString(doc)
	b.WriteString("\nDimensions needing values:\n")
	for _, dim := range missing {
		fmt.Fprintf(&b, "- %s (%s): %s\n", dim.Slug, dim.Label, dim.Description)
	}

	var parsed struct {
		Suggestions map[string]Suggestion `json:"suggestions"`
	}
	if err := askJSON(ctx, e.llm, e.models.Full, enrichSystemPrompt, b.String(), &parsed); err != nil {
		return nil, err
	}

	result := &EnrichmentResult{
		Status:       EnrichStatusSuggested,
		Completeness: completeness,
		Suggestions:  parsed.Suggestions,
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal enrichment: %w", err)
	}
	if err := e.store.SetField(subjectID, catalog.FieldEnrichment, string(raw)); err != nil {
		return nil, err
	}
	if err := e.store.SetField(subjectID, catalog.FieldEnrichedAt, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}

	e.log.Info("enriched entity", "subject", subjectID,
		"completeness", completeness, "suggestions", len(result.Suggestions))
	return result, nil
}

func (e *Enricher) missingDimensions(subjectID string) ([]taxonomy.Dimension, error) {
	var missing []taxonomy.Dimension
	for _, dim := range taxonomy.Dimensions() {
		terms, err := e.store.Terms(subjectID, dim.Slug)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			missing = append(missing, dim)
		}
	}
	return missing, nil
}

func (e *Enricher) contextDocument(entity *catalog.Entity) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", entity.Name)
	if p := entity.Price(); p > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", p)
	}
	if entity.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", entity.Description)
	}
	for _, key := range []string{
		catalog.FieldVIN, catalog.FieldYear, catalog.FieldCondition,
		catalog.FieldStreetLegal, catalog.FieldElectric,
	} {
		v, err := e.store.GetField(entity.ID, key)
		if err != nil {
			return "", err
		}
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}
	b.WriteString("\nKnown assignments:\n")
	for _, dim := range taxonomy.Dimensions() {
		terms, err := e.store.Terms(entity.ID, dim.Slug)
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
