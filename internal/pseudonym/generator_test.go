package pseudonym

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/cache"
	"github.com/clinshield/deidentify/internal/mapstore"
	"github.com/clinshield/deidentify/internal/patterns"
)

// memoryCache stands in for the Redis cache in tests.
type memoryCache struct {
	mappings map[string]*cache.CachedMapping
}

func (m *memoryCache) Get(_ context.Context, fingerprint string) (*cache.CachedMapping, bool, error) {
	cached, ok := m.mappings[fingerprint]
	return cached, ok, nil
}

func (m *memoryCache) Set(_ context.Context, mapping *cache.CachedMapping) error {
	m.mappings[mapping.Fingerprint] = mapping
	return nil
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	store, err := mapstore.New(mapstore.Config{Path: "unused"}, mapstore.UnavailableProvider{}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return New(store, nil, zap.NewNop())
}

func TestNormalize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"John Doe", "john doe"},
		{"  John   Doe  ", "john doe"},
		{"JOHN\tDOE", "john doe"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFingerprint(t *testing.T) {
	t.Run("CaseAndSpacingInsensitive", func(t *testing.T) {
		a := Fingerprint("John Doe", patterns.CategoryName)
		b := Fingerprint("  john   doe", patterns.CategoryName)
		if a != b {
			t.Error("fingerprints of equivalent spellings differ")
		}
	})

	t.Run("CategoryScoped", func(t *testing.T) {
		a := Fingerprint("12345678", patterns.CategoryMedicalRecordNo)
		b := Fingerprint("12345678", patterns.CategoryOtherIdentifier)
		if a == b {
			t.Error("same value in different categories must fingerprint differently")
		}
	})

	t.Run("Irreversible", func(t *testing.T) {
		fp := Fingerprint("John Doe", patterns.CategoryName)
		if len(fp) != 64 {
			t.Errorf("fingerprint length = %d, want 64 hex chars", len(fp))
		}
	})
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("StableAcrossCalls", func(t *testing.T) {
		gen := newTestGenerator(t)
		first, err := gen.GetOrCreate(ctx, "John Doe", patterns.CategoryName)
		if err != nil {
			t.Fatal(err)
		}
		second, err := gen.GetOrCreate(ctx, "john doe", patterns.CategoryName)
		if err != nil {
			t.Fatal(err)
		}
		if first != second {
			t.Errorf("same value produced %s then %s", first, second)
		}
		if first != "PATIENT-0001" {
			t.Errorf("token = %s, want PATIENT-0001", first)
		}
	})

	t.Run("DistinctValuesDistinctTokens", func(t *testing.T) {
		gen := newTestGenerator(t)
		a, _ := gen.GetOrCreate(ctx, "John Doe", patterns.CategoryName)
		b, _ := gen.GetOrCreate(ctx, "Jane Roe", patterns.CategoryName)
		if a == b {
			t.Errorf("distinct values both mapped to %s", a)
		}
		if b != "PATIENT-0002" {
			t.Errorf("second token = %s, want PATIENT-0002", b)
		}
	})

	t.Run("PerCategoryNumbering", func(t *testing.T) {
		gen := newTestGenerator(t)
		name, _ := gen.GetOrCreate(ctx, "John Doe", patterns.CategoryName)
		email, _ := gen.GetOrCreate(ctx, "john@example.com", patterns.CategoryEmail)
		if name != "PATIENT-0001" || email != "EMAIL-0001" {
			t.Errorf("tokens = %s, %s; want PATIENT-0001, EMAIL-0001", name, email)
		}
	})

	t.Run("AdoptedTokenAdvancesSequence", func(t *testing.T) {
		store, err := mapstore.New(mapstore.Config{Path: "unused"}, mapstore.UnavailableProvider{}, zap.NewNop())
		if err != nil {
			t.Fatal(err)
		}
		shared := &memoryCache{mappings: map[string]*cache.CachedMapping{
			Fingerprint("John Doe", patterns.CategoryName): {
				Fingerprint: Fingerprint("John Doe", patterns.CategoryName),
				Pseudonym:   "PATIENT-0001",
				Category:    string(patterns.CategoryName),
			},
		}}
		gen := New(store, shared, zap.NewNop())

		adopted, err := gen.GetOrCreate(ctx, "John Doe", patterns.CategoryName)
		if err != nil {
			t.Fatal(err)
		}
		if adopted != "PATIENT-0001" {
			t.Fatalf("adopted token = %s, want PATIENT-0001", adopted)
		}

		next, err := gen.GetOrCreate(ctx, "Jane Roe", patterns.CategoryName)
		if err != nil {
			t.Fatal(err)
		}
		if next != "PATIENT-0002" {
			t.Errorf("token after adoption = %s, want PATIENT-0002", next)
		}
	})

	t.Run("UnknownCategory", func(t *testing.T) {
		gen := newTestGenerator(t)
		if _, err := gen.GetOrCreate(ctx, "x", patterns.Category("BOGUS")); err == nil {
			t.Fatal("expected error for category without a token prefix")
		}
	})
}
