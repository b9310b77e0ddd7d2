// Package catalog defines the vehicle catalog model and persistence: the
// entities being classified, their scalar fields, and their per-dimension
// term assignments.
package catalog

import (
	"errors"
	"time"
)

// ErrNotFound is returned when the requested entity does not exist.
// Callers treat it as terminal; it is never worth a retry.
var ErrNotFound = errors.New("entity not found")

// Entity is a single catalog item (a vehicle).
type Entity struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	SKU              string    `json:"sku,omitempty"`
	Description      string    `json:"description,omitempty"`
	ShortDescription string    `json:"short_description,omitempty"`
	RegularPrice     float64   `json:"regular_price,omitempty"`
	SalePrice        float64   `json:"sale_price,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Price returns the effective price: the sale price when set, otherwise
// the regular price.
func (e *Entity) Price() float64 {
	if e.SalePrice > 0 && e.SalePrice < e.RegularPrice {
		return e.SalePrice
	}
	return e.RegularPrice
}

// Term is one value inside a dimension's vocabulary.
type Term struct {
	ID        string `json:"id"`
	Dimension string `json:"dimension"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
}

// TermFilter selects entities assigned any of the given terms in a
// dimension. Multiple filters are combined with AND.
type TermFilter struct {
	Dimension string
	TermIDs   []string
}

// Scalar field keys. Identity fields feed the fingerprint; the rest hold
// worker output and bookkeeping timestamps.
const (
	FieldVIN         = "vin"
	FieldSerial      = "serial"
	FieldYear        = "year"
	FieldCondition   = "condition"
	FieldStreetLegal = "street_legal"
	FieldElectric    = "electric"

	FieldDNAHash         = "dna_hash"
	FieldDNAString       = "dna_string"
	FieldDNAGenerated    = "dna_generated"
	FieldDNACompleteness = "dna_completeness"

	FieldClassification = "classification"
	FieldClassifiedAt   = "classified_at"
	FieldEnrichment     = "enrichment"
	FieldEnrichedAt     = "enriched_at"
	FieldSEO            = "seo"
	FieldCrossSells     = "cross_sells"

	FieldLastPipeline   = "last_pipeline"
	FieldLastPipelineAt = "last_pipeline_at"
	FieldPipelineReport = "pipeline_report"

	FieldFeedID       = "feed_id"
	FieldFeedRaw      = "feed_raw"
	FieldFeedSyncedAt = "feed_synced_at"
)

// Store persists and retrieves catalog entities, their scalar fields, and
// their attribute-dimension term assignments.
type Store interface {
	// CreateEntity persists a new entity and returns its assigned ID.
	CreateEntity(e *Entity) (string, error)

	// GetEntity retrieves an entity by ID. Returns ErrNotFound when absent.
	GetEntity(id string) (*Entity, error)

	// UpdateEntity saves changes to an existing entity.
	UpdateEntity(e *Entity) error

	// ListEntityIDs returns up to limit entity IDs, newest first.
	// limit <= 0 means no limit.
	ListEntityIDs(limit int) ([]string, error)

	// FindEntityByField returns the ID of the entity whose scalar field
	// key equals value, or "" when no such entity exists.
	FindEntityByField(key, value string) (string, error)

	// GetField returns the scalar field value, or "" when unset.
	GetField(entityID, key string) (string, error)

	// SetField writes a scalar field value, replacing any previous value.
	SetField(entityID, key, value string) error

	// EntityIDsWithoutField returns IDs of entities with no value for key.
	EntityIDsWithoutField(key string) ([]string, error)

	// EntityIDsWithFieldBefore returns IDs of entities whose value for key
	// (an RFC 3339 timestamp) is older than cutoff, or missing entirely.
	EntityIDsWithFieldBefore(key string, cutoff time.Time) ([]string, error)

	// Terms returns the terms assigned to the entity in one dimension.
	Terms(entityID, dimension string) ([]Term, error)

	// AssignTerms sets the entity's terms in a dimension. When additive is
	// true existing assignments are kept; otherwise they are replaced.
	AssignTerms(entityID, dimension string, termIDs []string, additive bool) error

	// ResolveOrCreateTerm finds a term by name within a dimension,
	// creating it when absent.
	ResolveOrCreateTerm(dimension, name string) (*Term, error)

	// TermNames returns up to limit term names in a dimension.
	TermNames(dimension string, limit int) ([]string, error)

	// EntityIDsByTerms returns IDs of entities matching every filter,
	// excluding excludeID, bounded by limit.
	EntityIDsByTerms(filters []TermFilter, excludeID string, limit int) ([]string, error)
}
