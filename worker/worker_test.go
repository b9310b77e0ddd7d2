package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fleetdna/fleetdna/catalog"
	"github.com/fleetdna/fleetdna/dna"
	"github.com/fleetdna/fleetdna/provider"
	"github.com/fleetdna/fleetdna/provider/mock"
	"github.com/fleetdna/fleetdna/taxonomy"
)

var testModels = Models{Fast: "fast-model", Full: "full-model"}

func newTestStore(t *testing.T) *catalog.SQLiteStore {
	t.Helper()
	store, err := catalog.NewSQLiteStore(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func createEntity(t *testing.T, store *catalog.SQLiteStore, name string) string {
	t.Helper()
	id, err := store.CreateEntity(&catalog.Entity{Name: name, RegularPrice: 8999})
	if err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return id
}

func assignTerm(t *testing.T, store *catalog.SQLiteStore, entityID, dimension, name string) {
	t.Helper()
	term, err := store.ResolveOrCreateTerm(dimension, name)
	if err != nil {
		t.Fatalf("resolve term: %v", err)
	}
	if err := store.AssignTerms(entityID, dimension, []string{term.ID}, true); err != nil {
		t.Fatalf("assign term: %v", err)
	}
}

func TestRegistry(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	llm := mock.New()

	r := NewRegistry()
	r.Register(NewClassifier(store, engine, llm, testModels, testLogger()))
	r.Register(NewEnricher(store, engine, llm, testModels, testLogger()))

	if _, ok := r.Get(TypeClassify); !ok {
		t.Error("classify worker not registered")
	}
	if _, ok := r.Get("nope"); ok {
		t.Error("unexpected worker for unknown type")
	}
	types := r.Types()
	if len(types) != 2 || types[0] != TypeClassify || types[1] != TypeEnrich {
		t.Errorf("Types() = %v", types)
	}
}

func TestClassifierApply(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "2021 Club Car Onward Blue")

	// Seed the candidate vocabulary; only candidate terms may be applied.
	for _, n := range []string{"Club Car", "Yamaha"} {
		if _, err := store.ResolveOrCreateTerm(taxonomy.ManufacturerSlug, n); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.ResolveOrCreateTerm(taxonomy.PrimarySlug, "Onward"); err != nil {
		t.Fatal(err)
	}

	llm := mock.New(`{
		"dimensions": {
			"manufacturers": {"terms": ["Club Car"], "confidence": 0.95},
			"models": {"terms": ["Onward", "Fabricated Model"], "confidence": 0.9}
		},
		"reasoning": "name match"
	}`)
	c := NewClassifier(store, engine, llm, testModels, testLogger())

	result, err := c.Classify(context.Background(), id, true)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !result.Applied {
		t.Error("result not marked applied")
	}

	makers, err := store.Terms(id, taxonomy.ManufacturerSlug)
	if err != nil {
		t.Fatal(err)
	}
	if len(makers) != 1 || makers[0].Name != "Club Car" {
		t.Errorf("manufacturers = %+v", makers)
	}

	// The fabricated term was not in the candidate list and must not
	// have been created or assigned.
	models, err := store.Terms(id, taxonomy.PrimarySlug)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 1 || models[0].Name != "Onward" {
		t.Errorf("models = %+v", models)
	}

	// Raw result and timestamp persisted; fingerprint recomputed.
	for _, key := range []string{catalog.FieldClassification, catalog.FieldClassifiedAt, catalog.FieldDNAHash, catalog.FieldDNACompleteness} {
		v, err := store.GetField(id, key)
		if err != nil {
			t.Fatal(err)
		}
		if v == "" {
			t.Errorf("field %s not persisted", key)
		}
	}
}

func TestClassifierNoApplyPersistsRawOnly(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Yamaha Drive2")
	if _, err := store.ResolveOrCreateTerm(taxonomy.ManufacturerSlug, "Yamaha"); err != nil {
		t.Fatal(err)
	}

	llm := mock.New(`{"dimensions": {"manufacturers": {"terms": ["Yamaha"], "confidence": 0.9}}}`)
	c := NewClassifier(store, engine, llm, testModels, testLogger())

	result, err := c.Classify(context.Background(), id, false)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if result.Applied {
		t.Error("result marked applied without apply")
	}

	terms, err := store.Terms(id, taxonomy.ManufacturerSlug)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 0 {
		t.Errorf("terms assigned without apply: %+v", terms)
	}
	raw, err := store.GetField(id, catalog.FieldClassification)
	if err != nil {
		t.Fatal(err)
	}
	if raw == "" {
		t.Error("raw classification not persisted")
	}
}

func TestClassifierApplyIdempotent(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "EZGO RXV")
	if _, err := store.ResolveOrCreateTerm(taxonomy.ManufacturerSlug, "E-Z-GO"); err != nil {
		t.Fatal(err)
	}

	resp := `{"dimensions": {"manufacturers": {"terms": ["E-Z-GO"], "confidence": 0.9}}}`
	c := NewClassifier(store, engine, mock.New(resp, resp), testModels, testLogger())

	if _, err := c.Classify(context.Background(), id, true); err != nil {
		t.Fatal(err)
	}
	hash1, err := store.GetField(id, catalog.FieldDNAHash)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Classify(context.Background(), id, true); err != nil {
		t.Fatal(err)
	}
	hash2, err := store.GetField(id, catalog.FieldDNAHash)
	if err != nil {
		t.Fatal(err)
	}

	if hash1 != hash2 {
		t.Errorf("hash changed on repeat apply: %s vs %s", hash1, hash2)
	}
	terms, err := store.Terms(id, taxonomy.ManufacturerSlug)
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 1 {
		t.Errorf("expected 1 term after repeat apply, got %d", len(terms))
	}
}

func TestClassifierNotFound(t *testing.T) {
	store := newTestStore(t)
	c := NewClassifier(store, dna.NewEngine(store), mock.New(), testModels, testLogger())
	_, err := c.Classify(context.Background(), "missing", true)
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClassifierErrorTaxonomy(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Broken")

	tests := []struct {
		name string
		llm  provider.Provider
		want error
	}{
		{"upstream", mock.NewFailing(errors.New("503")), ErrUpstream},
		{"bad response", mock.New("not json at all"), ErrBadResponse},
		{"not configured", mock.NewFailing(provider.ErrNotConfigured), provider.ErrNotConfigured},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(store, engine, tt.llm, testModels, testLogger())
			_, err := c.Classify(context.Background(), id, true)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestClassifyBatchCollectsFailures(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Good One")

	llm := mock.New(`{"dimensions": {}}`)
	c := NewClassifier(store, engine, llm, testModels, testLogger())

	out := c.ClassifyBatch(context.Background(), []string{id, "missing"}, false)
	if out[id].Error != "" || out[id].Result == nil {
		t.Errorf("good id outcome = %+v", out[id])
	}
	if out["missing"].Error == "" {
		t.Error("missing id should carry an error")
	}
}

func TestEnricherSkipsComplete(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Fully Classified")
	for _, dim := range taxonomy.Dimensions() {
		assignTerm(t, store, id, dim.Slug, "Something")
	}

	e := NewEnricher(store, engine, mock.NewFailing(errors.New("should not be called")), testModels, testLogger())
	result, err := e.Enrich(context.Background(), id)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if result.Status != EnrichStatusAlreadyComplete {
		t.Errorf("status = %q, want already_complete", result.Status)
	}
	if result.Completeness != 100.0 {
		t.Errorf("completeness = %v, want 100", result.Completeness)
	}
}

func TestEnricherSuggestions(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Empty Cart")

	llm := mock.New(`{
		"suggestions": {
			"battery-type": {"value": "Lithium", "confidence": 0.85, "reasoning": "model year"},
			"seating-capacity": {"value": "4", "confidence": 0.75}
		}
	}`)
	e := NewEnricher(store, engine, llm, testModels, testLogger())

	result, err := e.Enrich(context.Background(), id)
	if err != nil {
		t.Fatalf("Enrich: %v", err)
	}
	if result.Status != EnrichStatusSuggested {
		t.Errorf("status = %q", result.Status)
	}
	if len(result.Suggestions) != 2 {
		t.Errorf("suggestions = %d, want 2", len(result.Suggestions))
	}
	for dim, s := range result.Suggestions {
		if s.Confidence < 0 {
			t.Errorf("suggestion %s has negative confidence", dim)
		}
	}

	// Suggestions are not auto-applied.
	terms, err := store.Terms(id, "battery-type")
	if err != nil {
		t.Fatal(err)
	}
	if len(terms) != 0 {
		t.Error("enrichment must not write assignments")
	}
	raw, err := store.GetField(id, catalog.FieldEnrichment)
	if err != nil {
		t.Fatal(err)
	}
	if raw == "" {
		t.Error("raw enrichment not persisted")
	}
}

func TestDescriberWritesBackWhenEmpty(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "2020 Icon i40")

	llm := mock.New(`{
		"description": "A well kept four seater.",
		"short_description": "Four seater.",
		"seo": {"title": "2020 Icon i40", "meta_description": "Four seater cart.", "keywords": ["icon", "i40"]}
	}`)
	d := NewDescriber(store, engine, llm, testModels, testLogger())

	result, err := d.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if !result.Written {
		t.Error("description should have been written back")
	}

	entity, err := store.GetEntity(id)
	if err != nil {
		t.Fatal(err)
	}
	if entity.Description != "A well kept four seater." {
		t.Errorf("description = %q", entity.Description)
	}
	seo, err := store.GetField(id, catalog.FieldSEO)
	if err != nil {
		t.Fatal(err)
	}
	if seo == "" {
		t.Error("seo not persisted")
	}
}

func TestDescriberKeepsExistingDescription(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id, err := store.CreateEntity(&catalog.Entity{Name: "Described", Description: "Hand written."})
	if err != nil {
		t.Fatal(err)
	}

	llm := mock.New(`{"description": "Generated.", "short_description": "Gen."}`)
	d := NewDescriber(store, engine, llm, testModels, testLogger())

	result, err := d.Describe(context.Background(), id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if result.Written {
		t.Error("existing description must not be overwritten")
	}
	entity, err := store.GetEntity(id)
	if err != nil {
		t.Fatal(err)
	}
	if entity.Description != "Hand written." {
		t.Errorf("description = %q", entity.Description)
	}
}

func TestSimilarityStructuralFirst(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)

	subject := createEntity(t, store, "Subject")
	twin := createEntity(t, store, "Twin")
	stranger := createEntity(t, store, "Stranger")

	for _, id := range []string{subject, twin} {
		assignTerm(t, store, id, taxonomy.ManufacturerSlug, "Club Car")
		assignTerm(t, store, id, taxonomy.PrimarySlug, "Onward")
	}
	assignTerm(t, store, stranger, taxonomy.ManufacturerSlug, "Yamaha")
	assignTerm(t, store, stranger, taxonomy.PrimarySlug, "Drive2")

	s := NewSimilarityWorker(store, engine, mock.NewFailing(errors.New("should not be called")), testModels, testLogger())
	result, err := s.FindSimilar(context.Background(), subject, 5, 5)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if result.Method != MethodStructural {
		t.Errorf("method = %q, want structural", result.Method)
	}
	if len(result.IDs) != 1 || result.IDs[0] != twin {
		t.Errorf("ids = %v, want [%s]", result.IDs, twin)
	}
}

func TestSimilarityInferenceFallback(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)

	subject := createEntity(t, store, "Lonely Subject")
	other := createEntity(t, store, "Candidate A")
	createEntity(t, store, "Candidate B")

	llm := mock.New(`{"ids": ["` + other + `", "not-a-candidate"], "reasoning": "price proximity"}`)
	s := NewSimilarityWorker(store, engine, llm, testModels, testLogger())

	result, err := s.FindSimilar(context.Background(), subject, 5, 5)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if result.Method != MethodInference {
		t.Errorf("method = %q, want inference", result.Method)
	}
	if len(result.IDs) != 1 || result.IDs[0] != other {
		t.Errorf("ids = %v, want only the real candidate", result.IDs)
	}
	if result.Reasoning == "" {
		t.Error("reasoning missing")
	}
}

func TestExecutePayloads(t *testing.T) {
	store := newTestStore(t)
	engine := dna.NewEngine(store)
	id := createEntity(t, store, "Payload Subject")
	if _, err := store.ResolveOrCreateTerm(taxonomy.ManufacturerSlug, "Club Car"); err != nil {
		t.Fatal(err)
	}

	llm := mock.New(`{"dimensions": {"manufacturers": {"terms": ["Club Car"], "confidence": 0.9}}}`)
	c := NewClassifier(store, engine, llm, testModels, testLogger())

	// apply=false via payload leaves assignments untouched.
	out, err := c.Execute(context.Background(), id, json.RawMessage(`{"apply": false}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.(*ClassificationResult).Applied {
		t.Error("payload apply=false ignored")
	}
}

func TestAudit(t *testing.T) {
	store := newTestStore(t)
	id := createEntity(t, store, "Audited")

	result, err := Audit(store, id)
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if result.Passed {
		t.Error("entity with no condition or assignments should fail audit")
	}

	// Fix everything the audit flagged.
	entity, err := store.GetEntity(id)
	if err != nil {
		t.Fatal(err)
	}
	entity.Description = "Has a description now."
	if err := store.UpdateEntity(entity); err != nil {
		t.Fatal(err)
	}
	if err := store.SetField(id, catalog.FieldCondition, "used"); err != nil {
		t.Fatal(err)
	}
	assignTerm(t, store, id, taxonomy.ManufacturerSlug, "Club Car")
	assignTerm(t, store, id, taxonomy.PrimarySlug, "Onward")

	result, err = Audit(store, id)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Passed {
		t.Errorf("audit still failing: %v", result.Issues)
	}
}

func TestAnalyzeInventory(t *testing.T) {
	store := newTestStore(t)

	a := createEntity(t, store, "A")
	b := createEntity(t, store, "B")
	assignTerm(t, store, a, taxonomy.ManufacturerSlug, "Club Car")
	assignTerm(t, store, b, taxonomy.ManufacturerSlug, "Yamaha")
	if err := store.SetField(a, catalog.FieldCondition, "new"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetField(a, catalog.FieldDNACompleteness, "4.0"); err != nil {
		t.Fatal(err)
	}
	if err := store.SetField(b, catalog.FieldDNACompleteness, "8.0"); err != nil {
		t.Fatal(err)
	}

	analysis, err := AnalyzeInventory(store)
	if err != nil {
		t.Fatalf("AnalyzeInventory: %v", err)
	}
	if analysis.Total != 2 {
		t.Errorf("total = %d", analysis.Total)
	}
	if analysis.ByManufacturer["Club Car"] != 1 || analysis.ByManufacturer["Yamaha"] != 1 {
		t.Errorf("by manufacturer = %v", analysis.ByManufacturer)
	}
	if analysis.ByCondition["new"] != 1 || analysis.ByCondition["unknown"] != 1 {
		t.Errorf("by condition = %v", analysis.ByCondition)
	}
	if analysis.ByPriceRange["5k_10k"] != 2 {
		t.Errorf("by price range = %v", analysis.ByPriceRange)
	}
	if analysis.AvgCompleteness != 6.0 {
		t.Errorf("avg completeness = %v", analysis.AvgCompleteness)
	}
	if analysis.Unclassified != 2 {
		t.Errorf("unclassified = %d", analysis.Unclassified)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}\n```", `{"a":1}`},
		{"  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		if got := extractJSON(tt.in); got != tt.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
