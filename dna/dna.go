// Package dna computes the deterministic fingerprint of a catalog entity:
// a canonical string over all 50 taxonomy dimensions plus the scalar
// identity fields, its SHA-256 hash, and a completeness score. Two
// entities with identical assignments always hash identically, regardless
// of the order the assignments were made in.
package dna

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/taxonomy"
)

const (
	// emptyValue stands in for a dimension or scalar with no assignment.
	emptyValue = "null"
	// termSeparator joins term slugs within one dimension.
	termSeparator = "|"
	// componentSeparator joins dimensions and scalar fields.
	componentSeparator = "::"
)

// identityFields are appended to the canonical string after the
// dimensions, in this fixed order.
var identityFields = []string{
	catalog.FieldVIN,
	catalog.FieldSerial,
	catalog.FieldYear,
	catalog.FieldCondition,
}

// Fingerprint is the computed identity of an entity's configuration.
type Fingerprint struct {
	Hash      string `json:"hash"`
	Canonical string `json:"canonical"`
}

// DimensionValues is one row of a fingerprint breakdown.
type DimensionValues struct {
	Ordinal   int      `json:"ordinal"`
	Label     string   `json:"label"`
	Dimension string   `json:"dimension"`
	Values    []string `json:"values"`
}

// Engine computes fingerprints against a catalog store.
type Engine struct {
	store catalog.Store
	dims  []taxonomy.Dimension
}

// NewEngine creates an engine over the full dimension registry.
func NewEngine(store catalog.Store) *Engine {
	return &Engine{store: store, dims: taxonomy.Dimensions()}
}

// Fingerprint computes the entity's canonical string and SHA-256 hash and
// persists both, with a generation timestamp, as entity fields.
func (e *Engine) Fingerprint(subjectID string) (*Fingerprint, error) {
	if _, err := e.store.GetEntity(subjectID); err != nil {
		return nil, err
	}

	components := make([]string, 0, len(e.dims)+len(identityFields))
	for _, dim := range e.dims {
		terms, err := e.store.Terms(subjectID, dim.Slug)
		if err != nil {
			return nil, fmt.Errorf("terms for %s: %w", dim.Slug, err)
		}
		if len(terms) == 0 {
			components = append(components, emptyValue)
			continue
		}
		slugs := make([]string, len(terms))
		for i, t := range terms {
			slugs[i] = t.Slug
		}
		sort.Strings(slugs)
		components = append(components, strings.Join(slugs, termSeparator))
	}

	for _, key := range identityFields {
		v, err := e.store.GetField(subjectID, key)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", key, err)
		}
		if v == "" {
			v = emptyValue
		}
		components = append(components, v)
	}

	canonical := strings.Join(components, componentSeparator)
	sum := sha256.Sum256([]byte(canonical))
	fp := &Fingerprint{Hash: hex.EncodeToString(sum[:]), Canonical: canonical}

	if err := e.store.SetField(subjectID, catalog.FieldDNAHash, fp.Hash); err != nil {
		return nil, err
	}
	if err := e.store.SetField(subjectID, catalog.FieldDNAString, fp.Canonical); err != nil {
		return nil, err
	}
	if err := e.store.SetField(subjectID, catalog.FieldDNAGenerated, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return fp, nil
}

// Completeness returns the percentage of dimensions with at least one
// assignment, rounded to one decimal, and persists it.
func (e *Engine) Completeness(subjectID string) (float64, error) {
	if _, err := e.store.GetEntity(subjectID); err != nil {
		return 0, err
	}

	filled := 0
	for _, dim := range e.dims {
		terms, err := e.store.Terms(subjectID, dim.Slug)
		if err != nil {
			return 0, fmt.Errorf("terms for %s: %w", dim.Slug, err)
		}
		if len(terms) > 0 {
			filled++
		}
	}

	score := math.Round(float64(filled)/float64(len(e.dims))*1000) / 10
	err := e.store.SetField(subjectID, catalog.FieldDNACompleteness,
		fmt.Sprintf("%.1f", score))
	if err != nil {
		return 0, err
	}
	return score, nil
}

// Breakdown returns the assigned term names per dimension in ordinal
// order, skipping unassigned dimensions.
func (e *Engine) Breakdown(subjectID string) ([]DimensionValues, error) {
	if _, err := e.store.GetEntity(subjectID); err != nil {
		return nil, err
	}

	var out []DimensionValues
	for _, dim := range e.dims {
		terms, err := e.store.Terms(subjectID, dim.Slug)
		if err != nil {
			return nil, fmt.Errorf("terms for %s: %w", dim.Slug, err)
		}
		if len(terms) == 0 {
			continue
		}
		names := make([]string, len(terms))
		for i, t := range terms {
			names[i] = t.Name
		}
		out = append(out, DimensionValues{
			Ordinal:   dim.Ordinal,
			Label:     dim.Label,
			Dimension: dim.Slug,
			Values:    names,
		})
	}
	return out, nil
}

// FindSimilar returns entities sharing the subject's terms on the first
// matchDimensions assigned dimensions (ordinal order). At least two
// assigned dimensions are required to attempt a match; otherwise the
// result is empty.
func (e *Engine) FindSimilar(subjectID string, matchDimensions, limit int) ([]string, error) {
	if _, err := e.store.GetEntity(subjectID); err != nil {
		return nil, err
	}
	if matchDimensions <= 0 {
		matchDimensions = 5
	}

	var filters []catalog.TermFilter
	for _, dim := range e.dims {
		if len(filters) >= matchDimensions {
			break
		}
		terms, err := e.store.Terms(subjectID, dim.Slug)
		if err != nil {
			return nil, fmt.Errorf("terms for %s: %w", dim.Slug, err)
		}
		if len(terms) == 0 {
			continue
		}
		ids := make([]string, len(terms))
		for i, t := range terms {
			ids[i] = t.ID
		}
		filters = append(filters, catalog.TermFilter{Dimension: dim.Slug, TermIDs: ids})
	}

	if len(filters) < 2 {
		return nil, nil
	}
	return e.store.EntityIDsByTerms(filters, subjectID, limit)
}
