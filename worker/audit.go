package worker

import (
	"sort"
	"strconv"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/taxonomy"
)

// AuditResult lists the quality problems found on one entity.
type AuditResult struct {
	SubjectID string   `json:"subject_id"`
	Issues    []string `json:"issues"`
	Passed    bool     `json:"passed"`
}

// Audit runs the per-entity quality checks: required scalar data present
// and the core dimensions assigned. Pure reads, no inference.
func Audit(store catalog.Store, subjectID string) (*AuditResult, error) {
	entity, err := store.GetEntity(subjectID)
	if err != nil {
		return nil, err
	}

	result := &AuditResult{SubjectID: subjectID}
	if entity.Name == "" {
		result.Issues = append(result.Issues, "missing name")
	}
	if entity.Price() <= 0 {
		result.Issues = append(result.Issues, "missing price")
	}
	if entity.Description == "" {
		result.Issues = append(result.Issues, "missing description")
	}

	cond, err := store.GetField(subjectID, catalog.FieldCondition)
	if err != nil {
		return nil, err
	}
	if cond == "" {
		result.Issues = append(result.Issues, "missing condition")
	}

	for _, slug := range []string{taxonomy.ManufacturerSlug, taxonomy.PrimarySlug} {
		terms, err := store.Terms(subjectID, slug)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			result.Issues = append(result.Issues, "unassigned dimension: "+slug)
		}
	}

	result.Passed = len(result.Issues) == 0
	return result, nil
}

// InventoryAnalysis is the inventory-wide rollup.
type InventoryAnalysis struct {
	Total           int            `json:"total"`
	ByManufacturer  map[string]int `json:"by_manufacturer"`
	ByCondition     map[string]int `json:"by_condition"`
	ByPriceRange    map[string]int `json:"by_price_range"`
	AvgCompleteness float64        `json:"avg_completeness"`
	Unclassified    int            `json:"unclassified"`
}

// priceRanges are the rollup buckets, in ascending order of ceiling.
var priceRanges = []struct {
	label string
	upTo  float64
}{
	{"under_5k", 5000},
	{"5k_10k", 10000},
	{"10k_15k", 15000},
	{"over_15k", 0},
}

// AnalyzeInventory rolls the whole inventory up by manufacturer,
// condition, and price range, with the average completeness score.
func AnalyzeInventory(store catalog.Store) (*InventoryAnalysis, error) {
	ids, err := store.ListEntityIDs(0)
	if err != nil {
		return nil, err
	}

	analysis := &InventoryAnalysis{
		Total:          len(ids),
		ByManufacturer: make(map[string]int),
		ByCondition:    make(map[string]int),
		ByPriceRange:   make(map[string]int),
	}

	var completenessSum float64
	var completenessCount int
	for _, id := range ids {
		entity, err := store.GetEntity(id)
		if err != nil {
			return nil, err
		}

		terms, err := store.Terms(id, taxonomy.ManufacturerSlug)
		if err != nil {
			return nil, err
		}
		if len(terms) == 0 {
			analysis.ByManufacturer["unknown"]++
		}
		for _, t := range terms {
			analysis.ByManufacturer[t.Name]++
		}

		cond, err := store.GetField(id, catalog.FieldCondition)
		if err != nil {
			return nil, err
		}
		if cond == "" {
			cond = "unknown"
		}
		analysis.ByCondition[cond]++

		analysis.ByPriceRange[priceRange(entity.Price())]++

		classified, err := store.GetField(id, catalog.FieldClassifiedAt)
		if err != nil {
			return nil, err
		}
		if classified == "" {
			analysis.Unclassified++
		}

		score, err := store.GetField(id, catalog.FieldDNACompleteness)
		if err != nil {
			return nil, err
		}
		if score != "" {
			if v, err := strconv.ParseFloat(score, 64); err == nil {
				completenessSum += v
				completenessCount++
			}
		}
	}

	if completenessCount > 0 {
		analysis.AvgCompleteness = completenessSum / float64(completenessCount)
	}
	return analysis, nil
}

func priceRange(price float64) string {
	if price <= 0 {
		return "unpriced"
	}
	for _, r := range priceRanges {
		if r.upTo > 0 && price < r.upTo {
			return r.label
		}
	}
	return priceRanges[len(priceRanges)-1].label
}

// TopManufacturers returns the n most common manufacturers from an
// analysis, used by reporting surfaces.
func (a *InventoryAnalysis) TopManufacturers(n int) []string {
	type entry struct {
		name  string
		count int
	}
	entries := make([]entry, 0, len(a.ByManufacturer))
	for name, count := range a.ByManufacturer {
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if n > len(entries) {
		n = len(entries)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].name
	}
	return out
}
