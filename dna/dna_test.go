package dna

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/fleetdna/fleetdna/catalog"
)

func newTestStore(t *testing.T) *catalog.SQLiteStore {
	t.Helper()
	f, err := os.CreateTemp("", "fleetdna-dna-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	store, err := catalog.NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func assign(t *testing.T, store *catalog.SQLiteStore, entityID, dimension string, names ...string) {
	t.Helper()
	ids := make([]string, 0, len(names))
	for _, n := range names {
		term, err := store.ResolveOrCreateTerm(dimension, n)
		if err != nil {
			t.Fatalf("ResolveOrCreateTerm(%s, %s): %v", dimension, n, err)
		}
		ids = append(ids, term.ID)
	}
	if err := store.AssignTerms(entityID, dimension, ids, true); err != nil {
		t.Fatalf("AssignTerms(%s): %v", dimension, err)
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	id, _ := store.CreateEntity(&catalog.Entity{Name: "cart"})
	assign(t, store, id, "manufacturers", "Denago")
	assign(t, store, id, "models", "Nomad")
	store.SetField(id, catalog.FieldYear, "2024")

	a, err := engine.Fingerprint(id)
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := engine.Fingerprint(id)
	if err != nil {
		t.Fatalf("Fingerprint again: %v", err)
	}
	if a.Hash != b.Hash || a.Canonical != b.Canonical {
		t.Errorf("fingerprint not stable: %q vs %q", a.Hash, b.Hash)
	}
	if len(a.Hash) != 64 {
		t.Errorf("Hash length = %d, want 64 hex chars", len(a.Hash))
	}

	// Persisted as fields.
	if v, _ := store.GetField(id, catalog.FieldDNAHash); v != a.Hash {
		t.Errorf("persisted hash = %q, want %q", v, a.Hash)
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	a, _ := store.CreateEntity(&catalog.Entity{Name: "a"})
	assign(t, store, a, "added-features", "Light Bar")
	assign(t, store, a, "added-features", "Brush Guard")
	assign(t, store, a, "manufacturers", "Epic")

	b, _ := store.CreateEntity(&catalog.Entity{Name: "b"})
	assign(t, store, b, "manufacturers", "Epic")
	assign(t, store, b, "added-features", "Brush Guard")
	assign(t, store, b, "added-features", "Light Bar")

	fa, err := engine.Fingerprint(a)
	if err != nil {
		t.Fatalf("Fingerprint(a): %v", err)
	}
	fb, err := engine.Fingerprint(b)
	if err != nil {
		t.Fatalf("Fingerprint(b): %v", err)
	}
	if fa.Hash != fb.Hash {
		t.Errorf("assignment order changed the hash:\n a: %s\n b: %s", fa.Canonical, fb.Canonical)
	}
}

func TestFingerprint_SensitiveToSingleChange(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	id, _ := store.CreateEntity(&catalog.Entity{Name: "cart"})
	assign(t, store, id, "manufacturers", "Denago")
	assign(t, store, id, "models", "Nomad")

	before, _ := engine.Fingerprint(id)
	assign(t, store, id, "battery-system", "Lithium")
	after, _ := engine.Fingerprint(id)

	if before.Hash == after.Hash {
		t.Error("hash unchanged after assigning a new dimension")
	}
}

func TestFingerprint_ScalarTail(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	id, _ := store.CreateEntity(&catalog.Entity{Name: "cart"})

	empty, _ := engine.Fingerprint(id)
	if !strings.HasSuffix(empty.Canonical, "null::null::null::null") {
		t.Errorf("canonical for empty entity should end with four null scalars, got %q",
			empty.Canonical[len(empty.Canonical)-40:])
	}

	store.SetField(id, catalog.FieldVIN, "VIN-42")
	withVIN, _ := engine.Fingerprint(id)
	if withVIN.Hash == empty.Hash {
		t.Error("setting the VIN did not change the hash")
	}
	if !strings.Contains(withVIN.Canonical, "VIN-42") {
		t.Error("canonical string missing the VIN component")
	}
}

func TestCompleteness(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	id, _ := store.CreateEntity(&catalog.Entity{Name: "cart"})

	score, err := engine.Completeness(id)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if score != 0 {
		t.Errorf("empty entity completeness = %v, want 0", score)
	}

	// Two of fifty dimensions filled is exactly 4.0.
	assign(t, store, id, "manufacturers", "Denago")
	assign(t, store, id, "models", "Nomad")
	score, err = engine.Completeness(id)
	if err != nil {
		t.Fatalf("Completeness: %v", err)
	}
	if score != 4.0 {
		t.Errorf("completeness = %v, want 4.0", score)
	}

	// Additive-only mutation never decreases the score.
	assign(t, store, id, "models", "Nomad XL")
	again, _ := engine.Completeness(id)
	if again < score {
		t.Errorf("completeness decreased after additive assign: %v -> %v", score, again)
	}

	if v, _ := store.GetField(id, catalog.FieldDNACompleteness); v != "4.0" {
		t.Errorf("persisted completeness = %q, want 4.0", v)
	}
}

func TestBreakdown_OrdinalOrder(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)
	id, _ := store.CreateEntity(&catalog.Entity{Name: "cart"})
	assign(t, store, id, "battery-system", "Lithium") // ordinal 9
	assign(t, store, id, "manufacturers", "Denago")   // ordinal 1
	assign(t, store, id, "models", "Nomad")           // ordinal 3

	rows, err := engine.Breakdown(id)
	if err != nil {
		t.Fatalf("Breakdown: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("len(rows) = %d, want 3", len(rows))
	}
	wantOrdinals := []int{1, 3, 9}
	for i, row := range rows {
		if row.Ordinal != wantOrdinals[i] {
			t.Errorf("rows[%d].Ordinal = %d, want %d", i, row.Ordinal, wantOrdinals[i])
		}
	}
}

func TestFindSimilar(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	subject, _ := store.CreateEntity(&catalog.Entity{Name: "subject"})
	twin, _ := store.CreateEntity(&catalog.Entity{Name: "twin"})
	stranger, _ := store.CreateEntity(&catalog.Entity{Name: "stranger"})

	for _, id := range []string{subject, twin} {
		assign(t, store, id, "manufacturers", "Denago")
		assign(t, store, id, "models", "Nomad")
	}
	assign(t, store, stranger, "manufacturers", "Denago")
	assign(t, store, stranger, "models", "Rover")

	ids, err := engine.FindSimilar(subject, 5, 10)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(ids) != 1 || ids[0] != twin {
		t.Errorf("similar = %v, want [%s]", ids, twin)
	}
}

func TestFindSimilar_RequiresTwoDimensions(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	subject, _ := store.CreateEntity(&catalog.Entity{Name: "subject"})
	other, _ := store.CreateEntity(&catalog.Entity{Name: "other"})
	assign(t, store, subject, "manufacturers", "Denago")
	assign(t, store, other, "manufacturers", "Denago")

	ids, err := engine.FindSimilar(subject, 5, 10)
	if err != nil {
		t.Fatalf("FindSimilar: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("similar = %v, want empty with only one assigned dimension", ids)
	}
}

func TestEngine_NotFound(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store)

	if _, err := engine.Fingerprint("missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Fingerprint error = %v, want ErrNotFound", err)
	}
	if _, err := engine.Completeness("missing"); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Completeness error = %v, want ErrNotFound", err)
	}
}
