package patterns

import (
	"fmt"
	"regexp"
	"sort"
)

// CompilationError is returned when a catalog pattern fails to compile or
// fails its startup self-test. It is always fatal: a library with a broken
// pattern must never be used to scan records.
type CompilationError struct {
	Pattern string
	Err     error
}

func (e *CompilationError) Error() string {
	return fmt.Sprintf("pattern %q: %v", e.Pattern, e.Err)
}

func (e *CompilationError) Unwrap() error { return e.Err }

// Library holds every compiled detection pattern, grouped by jurisdiction.
// A Library is read-only after Build and safe for concurrent use.
type Library struct {
	common         []DetectionPattern
	byJurisdiction map[string][]DetectionPattern
}

// Build compiles the built-in catalogs into a Library and runs the startup
// self-test. Any compile failure, example mismatch, or pseudonym collision
// returns a CompilationError.
func Build() (*Library, error) {
	lib := &Library{
		byJurisdiction: make(map[string][]DetectionPattern),
	}

	common, err := compileSpecs(JurisdictionCommon, commonSpecs())
	if err != nil {
		return nil, err
	}
	lib.common = common

	for code, specs := range jurisdictionSpecs() {
		compiled, err := compileSpecs(code, specs)
		if err != nil {
			return nil, err
		}
		lib.byJurisdiction[code] = compiled
	}

	if err := lib.selfTest(); err != nil {
		return nil, err
	}
	return lib, nil
}

func compileSpecs(jurisdiction string, specs []spec) ([]DetectionPattern, error) {
	compiled := make([]DetectionPattern, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			return nil, &CompilationError{Pattern: s.name, Err: err}
		}
		compiled = append(compiled, DetectionPattern{
			Name:         s.name,
			Category:     s.category,
			Jurisdiction: jurisdiction,
			Regex:        re,
			Group:        s.group,
			Validator:    s.validator,
			Specificity:  s.specificity,
			Examples:     s.examples,
		})
	}
	return compiled, nil
}

// Common returns the baseline patterns shared by all jurisdictions.
func (l *Library) Common() []DetectionPattern { return l.common }

// ForJurisdiction returns the patterns specific to one jurisdiction code.
func (l *Library) ForJurisdiction(code string) ([]DetectionPattern, bool) {
	p, ok := l.byJurisdiction[code]
	return p, ok
}

// Jurisdictions returns the sorted list of known jurisdiction codes.
func (l *Library) Jurisdictions() []string {
	codes := make([]string, 0, len(l.byJurisdiction))
	for code := range l.byJurisdiction {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Known reports whether code names a built-in jurisdiction catalog.
func (l *Library) Known(code string) bool {
	_, ok := l.byJurisdiction[code]
	return ok
}

// all returns every pattern in the library, common first.
func (l *Library) all() []DetectionPattern {
	out := make([]DetectionPattern, 0, len(l.common))
	out = append(out, l.common...)
	for _, code := range l.Jurisdictions() {
		out = append(out, l.byJurisdiction[code]...)
	}
	return out
}

// selfTest verifies two properties before the library is released to
// callers: every pattern detects its own example values, and no pseudonym
// token is detectable by any pattern. The second property is what makes
// de-identification idempotent: a second pass over rewritten output finds
// nothing new.
func (l *Library) selfTest() error {
	all := l.all()

	for _, p := range all {
		for _, example := range p.Examples {
			loc := p.Regex.FindStringSubmatchIndex(example)
			if loc == nil {
				return &CompilationError{
					Pattern: p.Name,
					Err:     fmt.Errorf("example %q does not match", example),
				}
			}
			if p.Validator != nil {
				value := example[loc[2*p.Group]:loc[2*p.Group+1]]
				if !p.Validator(value) {
					return &CompilationError{
						Pattern: p.Name,
						Err:     fmt.Errorf("example %q fails validator", example),
					}
				}
			}
		}
	}

	for cat, prefix := range TokenPrefix {
		for _, token := range []string{
			fmt.Sprintf("%s-%04d", prefix, 1),
			fmt.Sprintf("%s-%04d", prefix, 9999),
			fmt.Sprintf("%s-%d", prefix, 123456789),
		} {
			for _, p := range all {
				loc := p.Regex.FindStringIndex(token)
				if loc == nil {
					continue
				}
				if p.Validator != nil && !p.Validator(token[loc[0]:loc[1]]) {
					continue
				}
				return &CompilationError{
					Pattern: p.Name,
					Err: fmt.Errorf("pseudonym token %q for category %s is detectable; rewritten output would not be stable",
						token, cat),
				}
			}
		}
	}
	return nil
}
