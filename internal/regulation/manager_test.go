package regulation

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/patterns"
)

func buildLibrary(t *testing.T) *patterns.Library {
	t.Helper()
	lib, err := patterns.Build()
	if err != nil {
		t.Fatalf("building pattern library: %v", err)
	}
	return lib
}

func TestNew(t *testing.T) {
	lib := buildLibrary(t)

	t.Run("UnknownJurisdiction", func(t *testing.T) {
		_, err := New(lib, []string{"US", "XX"}, true, zap.NewNop())
		var unknown *UnknownJurisdictionError
		if !errors.As(err, &unknown) {
			t.Fatalf("expected UnknownJurisdictionError, got %v", err)
		}
		if unknown.Code != "XX" {
			t.Errorf("error code = %s, want XX", unknown.Code)
		}
	})

	t.Run("EmptyList", func(t *testing.T) {
		if _, err := New(lib, nil, true, zap.NewNop()); err == nil {
			t.Fatal("expected error for empty jurisdiction list")
		}
	})

	t.Run("AllExpansion", func(t *testing.T) {
		m, err := New(lib, []string{"ALL"}, true, zap.NewNop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if got, want := len(m.Jurisdictions()), len(lib.Jurisdictions()); got != want {
			t.Errorf("resolved %d jurisdictions, want %d", got, want)
		}
	})

	t.Run("NormalizesCodes", func(t *testing.T) {
		m, err := New(lib, []string{" us ", "uk", "US"}, true, zap.NewNop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		got := m.Jurisdictions()
		if len(got) != 2 || got[0] != "US" || got[1] != "UK" {
			t.Errorf("resolved codes = %v, want [US UK]", got)
		}
	})

	t.Run("BaselineOnly", func(t *testing.T) {
		m, err := New(lib, []string{"US"}, false, zap.NewNop())
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		for _, p := range m.Patterns() {
			if p.Jurisdiction != patterns.JurisdictionCommon {
				t.Errorf("pattern %s from %s present in baseline-only run", p.Name, p.Jurisdiction)
			}
		}
	})
}

func TestPatternOrder(t *testing.T) {
	lib := buildLibrary(t)
	m, err := New(lib, []string{"ALL"}, true, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ordered := m.Patterns()
	if len(ordered) == 0 {
		t.Fatal("no patterns")
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Specificity > ordered[i-1].Specificity {
			t.Fatalf("pattern %s (specificity %d) sorted after %s (specificity %d)",
				ordered[i].Name, ordered[i].Specificity,
				ordered[i-1].Name, ordered[i-1].Specificity)
		}
	}

	seen := make(map[string]bool)
	for _, p := range ordered {
		key := string(p.Category) + "\x00" + p.Regex.String()
		if seen[key] {
			t.Errorf("duplicate pattern in merged set: %s", p.Name)
		}
		seen[key] = true
	}
}

func TestPriority(t *testing.T) {
	lib := buildLibrary(t)
	m, err := New(lib, []string{"UK", "US"}, true, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := m.Priority(patterns.JurisdictionCommon); got != 0 {
		t.Errorf("common priority = %d, want 0", got)
	}
	if m.Priority("UK") >= m.Priority("US") {
		t.Error("UK listed first should outrank US")
	}
}
