package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/provider"
)

const describeSystemPrompt = `You are a copywriter for a vehicle dealership. Write product copy for the vehicle described below.

Voice: confident, specific, no hype words, no exclamation marks. Mention concrete attributes over adjectives. Never state a price, VIN, or serial number that was not provided.

Respond with JSON: {"description": "...", "short_description": "...", "seo": {"title": "...", "meta_description": "...", "keywords": ["..."]}}`

const seoSystemPrompt = `You are an SEO specialist for a vehicle dealership. Produce search metadata for the vehicle described below.

Rules: title under 60 characters, meta description under 160 characters, 5 to 10 keywords. Use concrete attributes; never invent specs.

Respond with JSON: {"title": "...", "meta_description": "...", "keywords": ["..."]}`

// SEOResult is generated search metadata.
type SEOResult struct {
	Title           string   `json:"title"`
	MetaDescription string   `json:"meta_description"`
	Keywords        []string `json:"keywords"`
}

// DescriptionResult is generated product copy.
type DescriptionResult struct {
	Description      string     `json:"description"`
	ShortDescription string     `json:"short_description"`
	SEO              *SEOResult `json:"seo,omitempty"`
	Written          bool       `json:"written"`
}

// Describer generates product descriptions and SEO metadata.
type Describer struct {
	store  catalog.Store
	engine *dna.Engine
	llm    provider.Provider
	models Models
	log    *slog.Logger
}

// NewDescriber creates a describer over the given store and provider.
func NewDescriber(store catalog.Store, engine *dna.Engine, llm provider.Provider, models Models, log *slog.Logger) *Describer {
	return &Describer{store: store, engine: engine, llm: llm, models: models, log: log}
}

func (d *Describer) Type() string { return TypeDescribe }

// Execute implements Worker.
func (d *Describer) Execute(ctx context.Context, subjectID string, _ json.RawMessage) (any, error) {
	return d.Describe(ctx, subjectID)
}

// Describe generates descriptions and SEO copy for the entity. When the
// entity has no description yet the generated copy is written back;
// otherwise the result is returned without touching the entity.
func (d *Describer) Describe(ctx context.Context, subjectID string) (*DescriptionResult, error) {
	entity, err := d.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}

	doc, err := d.contextDocument(entity)
	if err != nil {
		return nil, err
	}

	var result DescriptionResult
	if err := askJSON(ctx, d.llm, d.models.Fast, describeSystemPrompt, doc, &result); err != nil {
		return nil, err
	}

	if entity.Description == "" && result.Description != "" {
		entity.Description = result.Description
		entity.ShortDescription = result.ShortDescription
		if err := d.store.UpdateEntity(entity); err != nil {
			return nil, err
		}
		result.Written = true
	}
	if result.SEO != nil {
		raw, err := json.Marshal(result.SEO)
		if err != nil {
			return nil, fmt.Errorf("marshal seo: %w", err)
		}
		if err := d.store.SetField(subjectID, catalog.FieldSEO, string(raw)); err != nil {
			return nil, err
		}
	}

	d.log.Info("described entity", "subject", subjectID, "written", result.Written)
	return &result, nil
}

// GenerateSEO produces search metadata on the fast tier and persists it.
func (d *Describer) GenerateSEO(ctx context.Context, subjectID string) (*SEOResult, error) {
	entity, err := d.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}
	doc, err := d.contextDocument(entity)
	if err != nil {
		return nil, err
	}

	var result SEOResult
	if err := askJSON(ctx, d.llm, d.models.Fast, seoSystemPrompt, doc, &result); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal seo: %w", err)
	}
	if err := d.store.SetField(subjectID, catalog.FieldSEO, string(raw)); err != nil {
		return nil, err
	}
	return &result, nil
}

// contextDocument renders the entity plus its assignment breakdown for
// the copywriting prompts.
func (d *Describer) contextDocument(entity *catalog.Entity) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Vehicle: %s\n", entity.Name)
	if p := entity.Price(); p > 0 {
		fmt.Fprintf(&b, "Price: %.2f\n", p)
	}
	if entity.Description != "" {
		fmt.Fprintf(&b, "Current description: %s\n", entity.Description)
	}
	for _, key := range []string{catalog.FieldYear, catalog.FieldCondition, catalog.FieldStreetLegal, catalog.FieldElectric} {
		v, err := d.store.GetField(entity.ID, key)
		if err != nil {
			return "", err
		}
		if v != "" {
			fmt.Fprintf(&b, "%s: %s\n", key, v)
		}
	}

	breakdown, err := d.engine.Breakdown(entity.ID)
	if err != nil {
		return "", err
	}
	if len(breakdown) > 0 {
		b.WriteString("\nAttributes:\n")
		for _, row := range breakdown {
			fmt.Fprintf(&b, "- %s: %s\n", row.Label, strings.Join(row.Values, ", "))
		}
	}
	return b.String(), nil
}
