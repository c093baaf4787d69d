// Package regulation selects and orders detection patterns for a set of
// jurisdictions. The Manager merges the common baseline with each requested
// jurisdiction catalog, de-duplicates identical patterns, and fixes the
// total order used whenever two detections overlap in the same text:
// descending specificity first, then descending match-length potential,
// then the jurisdiction priority order given by the caller. The order is
// deterministic by construction, never an accident of map iteration.
package regulation

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/patterns"
)

// JurisdictionAll requests every built-in jurisdiction catalog.
const JurisdictionAll = "ALL"

// UnknownJurisdictionError is returned from New for a jurisdiction code
// with no built-in catalog. It is raised at construction, before any data
// is scanned.
type UnknownJurisdictionError struct {
	Code string
}

func (e *UnknownJurisdictionError) Error() string {
	return fmt.Sprintf("unknown jurisdiction: %s", e.Code)
}

// Manager supplies the ordered pattern set for one run. Read-only after New.
type Manager struct {
	library       *patterns.Library
	jurisdictions []string
	ordered       []patterns.DetectionPattern
	logger        *zap.Logger
}

// New validates the requested jurisdiction codes against the library and
// builds the merged, ordered pattern set. "ALL" expands to every known
// jurisdiction. includeJurisdictionPatterns=false restricts the run to the
// common baseline; the jurisdiction list is still validated and reported.
func New(library *patterns.Library, jurisdictions []string, includeJurisdictionPatterns bool, logger *zap.Logger) (*Manager, error) {
	resolved, err := resolveCodes(library, jurisdictions)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		library:       library,
		jurisdictions: resolved,
		logger:        logger,
	}
	m.ordered = m.merge(includeJurisdictionPatterns)

	logger.Info("Regulation manager initialized",
		zap.Strings("jurisdictions", resolved),
		zap.Bool("jurisdiction_patterns", includeJurisdictionPatterns),
		zap.Int("patterns", len(m.ordered)),
	)
	return m, nil
}

func resolveCodes(library *patterns.Library, codes []string) ([]string, error) {
	if len(codes) == 0 {
		return nil, &UnknownJurisdictionError{Code: "(none)"}
	}
	var resolved []string
	seen := make(map[string]bool)
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == JurisdictionAll {
			for _, known := range library.Jurisdictions() {
				if !seen[known] {
					seen[known] = true
					resolved = append(resolved, known)
				}
			}
			continue
		}
		if !library.Known(code) {
			return nil, &UnknownJurisdictionError{Code: code}
		}
		if !seen[code] {
			seen[code] = true
			resolved = append(resolved, code)
		}
	}
	return resolved, nil
}

// merge combines baseline and jurisdiction patterns, drops duplicates
// (same category and same regex source), and applies the total order.
func (m *Manager) merge(includeJurisdiction bool) []patterns.DetectionPattern {
	priority := make(map[string]int, len(m.jurisdictions)+1)
	priority[patterns.JurisdictionCommon] = 0
	for i, code := range m.jurisdictions {
		priority[code] = i + 1
	}

	var merged []patterns.DetectionPattern
	seen := make(map[string]bool)
	add := func(list []patterns.DetectionPattern) {
		for _, p := range list {
			key := string(p.Category) + "\x00" + p.Regex.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, p)
		}
	}

	add(m.library.Common())
	if includeJurisdiction {
		for _, code := range m.jurisdictions {
			if list, ok := m.library.ForJurisdiction(code); ok {
				add(list)
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Specificity != b.Specificity {
			return a.Specificity > b.Specificity
		}
		// Longer expressions tend to match longer, more specific spans.
		if la, lb := len(a.Regex.String()), len(b.Regex.String()); la != lb {
			return la > lb
		}
		return priority[a.Jurisdiction] < priority[b.Jurisdiction]
	})
	return merged
}

// Patterns returns the merged pattern set in resolution order.
func (m *Manager) Patterns() []patterns.DetectionPattern {
	return m.ordered
}

// Jurisdictions returns the resolved jurisdiction codes in priority order.
func (m *Manager) Jurisdictions() []string {
	return m.jurisdictions
}

// Priority reports the overlap-resolution rank of a jurisdiction code;
// lower ranks win ties. The common baseline always ranks first.
func (m *Manager) Priority(code string) int {
	if code == patterns.JurisdictionCommon {
		return 0
	}
	for i, c := range m.jurisdictions {
		if c == code {
			return i + 1
		}
	}
	return len(m.jurisdictions) + 1
}

// CommonFields returns the distinct categories covered by the baseline
// catalog shared by all jurisdictions.
func (m *Manager) CommonFields() []patterns.Category {
	seen := make(map[patterns.Category]bool)
	var fields []patterns.Category
	for _, p := range m.library.Common() {
		if !seen[p.Category] {
			seen[p.Category] = true
			fields = append(fields, p.Category)
		}
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })
	return fields
}
