package taxonomy

import "testing"

func TestDimensions_CompleteAndOrdered(t *testing.T) {
	dims := Dimensions()
	if len(dims) != 50 {
		t.Fatalf("len(Dimensions()) = %d, want 50", len(dims))
	}
	if Count() != 50 {
		t.Errorf("Count() = %d, want 50", Count())
	}

	seen := map[int]string{}
	for i, d := range dims {
		if d.Ordinal != i+1 {
			t.Errorf("dimension %q at index %d has ordinal %d, want %d", d.Slug, i, d.Ordinal, i+1)
		}
		if prev, dup := seen[d.Ordinal]; dup {
			t.Errorf("ordinal %d claimed by both %q and %q", d.Ordinal, prev, d.Slug)
		}
		seen[d.Ordinal] = d.Slug
		if d.Slug == "" || d.Label == "" {
			t.Errorf("dimension with ordinal %d has empty slug or label", d.Ordinal)
		}
	}
}

func TestBySlug(t *testing.T) {
	d, ok := BySlug(PrimarySlug)
	if !ok {
		t.Fatalf("BySlug(%q) not found", PrimarySlug)
	}
	if d.Ordinal != 3 {
		t.Errorf("primary dimension ordinal = %d, want 3", d.Ordinal)
	}

	if _, ok := BySlug("flux-capacitor"); ok {
		t.Error("BySlug returned ok for unknown slug")
	}

	m, ok := BySlug(ManufacturerSlug)
	if !ok || m.Ordinal != 1 {
		t.Errorf("manufacturer dimension = %+v ok=%v, want ordinal 1", m, ok)
	}
}

func TestDimensions_CopyIsolated(t *testing.T) {
	a := Dimensions()
	a[0].Slug = "mutated"
	b := Dimensions()
	if b[0].Slug == "mutated" {
		t.Error("Dimensions() leaked internal slice")
	}
}
