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
	"github.com/fleetdna/fleetdna/taxonomy"
)

const (
	defaultSimilarCount = 5
	// similarityCandidateLimit bounds the inventory slice sent to the
	// inference fallback.
	similarityCandidateLimit = 50
)

// Similarity methods reported in results.
const (
	MethodStructural = "structural"
	MethodInference  = "inference"
)

const similaritySystemPrompt = `You are a vehicle sales assistant. From the numbered candidate list, pick the vehicles most similar to the subject vehicle, ranked best match first. Weigh manufacturer, model family, and price proximity.

Respond with JSON: {"ids": ["..."], "reasoning": "..."}`

// SimilarityResult lists similar entities and how they were found.
type SimilarityResult struct {
	Method    string   `json:"method"`
	IDs       []string `json:"ids"`
	Reasoning string   `json:"reasoning,omitempty"`
}

// SimilarityPayload is the task payload for the similarity task type.
type SimilarityPayload struct {
	Count           int `json:"count,omitempty"`
	MatchDimensions int `json:"match_dimensions,omitempty"`
}

// SimilarityWorker finds entities resembling a subject, structurally
// first and via the fast inference tier when structure yields nothing.
type SimilarityWorker struct {
	store  catalog.Store
	engine *dna.Engine
	llm    provider.Provider
	models Models
	log    *slog.Logger
}

// NewSimilarityWorker creates a similarity worker.
func NewSimilarityWorker(store catalog.Store, engine *dna.Engine, llm provider.Provider, models Models, log *slog.Logger) *SimilarityWorker {
	return &SimilarityWorker{store: store, engine: engine, llm: llm, models: models, log: log}
}

func (s *SimilarityWorker) Type() string { return TypeSimilarity }

// Execute implements Worker.
func (s *SimilarityWorker) Execute(ctx context.Context, subjectID string, payload json.RawMessage) (any, error) {
	var p SimilarityPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: similarity payload: %v", ErrBadResponse, err)
		}
	}
	return s.FindSimilar(ctx, subjectID, p.Count, p.MatchDimensions)
}

// FindSimilar returns up to count similar entities. The structural match
// over the first matchDimensions assigned dimensions runs first; when it
// finds nothing the bounded inference fallback ranks the inventory.
func (s *SimilarityWorker) FindSimilar(ctx context.Context, subjectID string, count, matchDimensions int) (*SimilarityResult, error) {
	if count <= 0 {
		count = defaultSimilarCount
	}

	ids, err := s.engine.FindSimilar(subjectID, matchDimensions, count)
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		return &SimilarityResult{Method: MethodStructural, IDs: ids}, nil
	}
	return s.rankByInference(ctx, subjectID, count)
}

func (s *SimilarityWorker) rankByInference(ctx context.Context, subjectID string, count int) (*SimilarityResult, error) {
	subject, err := s.store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}

	allIDs, err := s.store.ListEntityIDs(similarityCandidateLimit + 1)
	if err != nil {
		return nil, err
	}
	candidates := make(map[string]bool)
	var b strings.Builder
	fmt.Fprintf(&b, "Subject vehicle: %s", subject.Name)
	if p := subject.Price(); p > 0 {
		fmt.Fprintf(&b, " (%.2f)", p)
	}
	b.WriteString("\n\nCandidates:\n")
	for _, id := range allIDs {
		if id == subjectID || len(candidates) >= similarityCandidateLimit {
			continue
		}
		line, err := s.candidateLine(id)
		if err != nil {
			return nil, err
		}
		candidates[id] = true
		b.WriteString(line)
	}
	if len(candidates) == 0 {
		return &SimilarityResult{Method: MethodInference, IDs: nil}, nil
	}

	var parsed SimilarityResult
	if err := askJSON(ctx, s.llm, s.models.Fast, similaritySystemPrompt, b.String(), &parsed); err != nil {
		return nil, err
	}

	// Keep only ids the model was actually shown, bounded by count.
	result := &SimilarityResult{Method: MethodInference, Reasoning: parsed.Reasoning}
	for _, id := range parsed.IDs {
		if !candidates[id] || len(result.IDs) >= count {
			continue
		}
		result.IDs = append(result.IDs, id)
	}
	return result, nil
}

func (s *SimilarityWorker) candidateLine(id string) (string, error) {
	e, err := s.store.GetEntity(id)
	if err != nil {
		return "", err
	}
	var maker string
	terms, err := s.store.Terms(id, taxonomy.ManufacturerSlug)
	if err != nil {
		return "", err
	}
	if len(terms) > 0 {
		maker = terms[0].Name
	}
	line := fmt.Sprintf("- id=%s name=%q", id, e.Name)
	if maker != "" {
		line += fmt.Sprintf(" manufacturer=%q", maker)
	}
	if p := e.Price(); p > 0 {
		line += fmt.Sprintf(" price=%.2f", p)
	}
	return line + "\n", nil
}
