// Package engine orchestrates de-identification of free-form text and
// structured records: pattern scanning, overlap resolution, pseudonym
// substitution, and subject-scoped date shifting.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/config"
	"github.com/clinshield/deidentify/internal/dateshift"
	"github.com/clinshield/deidentify/internal/logger"
	"github.com/clinshield/deidentify/internal/patterns"
	"github.com/clinshield/deidentify/internal/pseudonym"
	"github.com/clinshield/deidentify/internal/regulation"
)

// GlobalSubjectKey scopes date shifting for records that carry no subject
// identifier: all such records share one offset, so repeated values stay
// consistent across files. This is a documented policy, not a fallback
// accident.
const GlobalSubjectKey = "__unscoped__"

// subjectFieldCandidates are the well-known record fields consulted, in
// order, to resolve the subject owning a record's dates.
var subjectFieldCandidates = []string{
	"subject_id", "usubjid", "patient_id", "subjectid", "patientid", "subject", "mrn",
}

// dobFieldHints mark field names whose dates are dates of birth. A date of
// birth is pseudonymized even when date shifting is globally disabled.
var dobFieldHints = map[string]bool{
	"dob": true, "date_of_birth": true, "birth_date": true, "birthdate": true, "brthdtc": true,
}

// Engine applies the configured pattern set to one text or record at a
// time. Construction fails fast: the pattern library has already passed
// its compile-and-self-test stage, and the regulation manager has already
// rejected unknown jurisdictions.
type Engine struct {
	cfg        config.DeidConfig
	manager    *regulation.Manager
	pseudonyms *pseudonym.Generator
	shifter    *dateshift.Shifter
	logger     *logger.Logger
	stats      *Stats
}

// New wires an engine from its collaborators.
func New(cfg config.DeidConfig, manager *regulation.Manager, gen *pseudonym.Generator, shifter *dateshift.Shifter, log *logger.Logger) *Engine {
	return &Engine{
		cfg:        cfg,
		manager:    manager,
		pseudonyms: gen,
		shifter:    shifter,
		logger:     log.WithComponent("engine"),
		stats:      newStats(),
	}
}

// Stats returns the engine's run counters.
func (e *Engine) Stats() StatsSnapshot { return e.stats.Snapshot() }

// candidate is one validated regex hit awaiting overlap resolution.
type candidate struct {
	pattern  *patterns.DetectionPattern
	start    int
	end      int
	priority int // jurisdiction rank, lower wins ties
}

// DeidentifyText scans one text value and returns the rewritten text plus
// the surviving detections. subjectID scopes date shifting; pass
// GlobalSubjectKey when the record has no subject field.
func (e *Engine) DeidentifyText(ctx context.Context, text, subjectID string) (string, []Detection, error) {
	return e.deidentify(ctx, text, subjectID, false)
}

// DeidentifyField is DeidentifyText with field-name context: a generic
// date found in a birth-date field is treated as a date of birth.
func (e *Engine) DeidentifyField(ctx context.Context, text, subjectID, fieldName string) (string, []Detection, error) {
	return e.deidentify(ctx, text, subjectID, dobFieldHints[strings.ToLower(fieldName)])
}

func (e *Engine) deidentify(ctx context.Context, text, subjectID string, dobField bool) (string, []Detection, error) {
	accepted := e.resolveSpans(e.collect(text))

	// Substitute right-to-left so earlier replacements cannot invalidate
	// the offsets of later spans.
	detections := make([]Detection, 0, len(accepted))
	rewritten := text
	for i := len(accepted) - 1; i >= 0; i-- {
		c := accepted[i]
		category := c.pattern.Category
		if dobField && category == patterns.CategoryGenericDate {
			category = patterns.CategoryDateOfBirth
		}

		replacement, replaced, err := e.replacementFor(ctx, rewritten[c.start:c.end], category, subjectID)
		if err != nil {
			return "", nil, err
		}
		if replaced {
			rewritten = rewritten[:c.start] + replacement + rewritten[c.end:]
		}

		detections = append(detections, Detection{
			Category: category,
			Pattern:  c.pattern.Name,
			Start:    c.start,
			Length:   c.end - c.start,
		})
		e.logger.LogDetection(string(category), c.end-c.start)
	}

	// Detections were appended right-to-left; report them in text order.
	for i, j := 0, len(detections)-1; i < j; i, j = i+1, j-1 {
		detections[i], detections[j] = detections[j], detections[i]
	}

	e.stats.addText(detections)
	return rewritten, detections, nil
}

// collect runs every pattern and gathers validated hits. A panicking
// validator is a configuration defect: it is logged loudly and the span is
// kept as a confirmed match, because failing open on PHI is unacceptable.
func (e *Engine) collect(text string) []candidate {
	var out []candidate
	for i := range e.manager.Patterns() {
		p := &e.manager.Patterns()[i]
		for _, loc := range p.Regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 || start == end {
				continue
			}
			if !e.validate(p, text[start:end]) {
				continue
			}
			out = append(out, candidate{
				pattern:  p,
				start:    start,
				end:      end,
				priority: e.manager.Priority(p.Jurisdiction),
			})
		}
	}
	return out
}

func (e *Engine) validate(p *patterns.DetectionPattern, value string) (ok bool) {
	if p.Validator == nil {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Pattern validator panicked; treating span as confirmed match",
				zap.String("pattern", p.Name),
				zap.Any("panic", r),
			)
			ok = true // fail closed: redact what we cannot confirm
		}
	}()
	return p.Validator(value)
}

// resolveSpans applies the documented total order to overlapping hits:
// higher specificity wins, then the longer span, then the jurisdiction
// priority given by the caller, then the earlier span. The result is
// sorted by start offset and mutually non-overlapping.
func (e *Engine) resolveSpans(cands []candidate) []candidate {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.pattern.Specificity != b.pattern.Specificity {
			return a.pattern.Specificity > b.pattern.Specificity
		}
		if la, lb := a.end-a.start, b.end-b.start; la != lb {
			return la > lb
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.start < b.start
	})

	var accepted []candidate
	for _, c := range cands {
		overlaps := false
		for _, a := range accepted {
			if c.start < a.end && a.start < c.end {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].start < accepted[j].start })
	return accepted
}

// replacementFor routes one span to date shifting or pseudonym allocation.
// The second return is false when the span is deliberately left in place
// (generic dates with shifting disabled, still counted as detections).
func (e *Engine) replacementFor(ctx context.Context, value string, category patterns.Category, subjectID string) (string, bool, error) {
	if patterns.DateCategories[category] {
		if e.cfg.EnableDateShifting {
			shifted, err := e.shifter.Shift(value, subjectID)
			if err != nil {
				// Unparseable date that matched a date pattern: redact
				// conservatively via the pseudonym path.
				e.logger.Warn("Date span could not be parsed; substituting pseudonym",
					zap.String("category", string(category)),
					zap.Error(err),
				)
				e.stats.addFieldWarning()
				return e.pseudonymFor(ctx, value, category)
			}
			return shifted, true, nil
		}
		if category == patterns.CategoryDateOfBirth {
			// Date of birth stays identifying even without date shifting,
			// so it is pseudonymized rather than passed through.
			return e.pseudonymFor(ctx, value, category)
		}
		return "", false, nil
	}
	return e.pseudonymFor(ctx, value, category)
}

func (e *Engine) pseudonymFor(ctx context.Context, value string, category patterns.Category) (string, bool, error) {
	token, err := e.pseudonyms.GetOrCreate(ctx, value, category)
	if err != nil {
		return "", false, fmt.Errorf("pseudonym allocation failed: %w", err)
	}
	return token, true, nil
}

// DeidentifyRecord rewrites every string leaf of one parsed JSON record,
// including leaves nested in objects and arrays. No field is added or
// removed. The owning subject is resolved from well-known identifier
// fields before any field is rewritten.
func (e *Engine) DeidentifyRecord(ctx context.Context, record map[string]any) (map[string]any, []Detection, error) {
	subjectID := ResolveSubjectID(record)

	var all []Detection
	out, err := e.walkMap(ctx, record, subjectID, &all)
	if err != nil {
		return nil, nil, err
	}
	return out, all, nil
}

func (e *Engine) walkMap(ctx context.Context, m map[string]any, subjectID string, all *[]Detection) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for key, value := range m {
		rewritten, err := e.walkValue(ctx, key, value, subjectID, all)
		if err != nil {
			return nil, err
		}
		out[key] = rewritten
	}
	return out, nil
}

func (e *Engine) walkValue(ctx context.Context, key string, value any, subjectID string, all *[]Detection) (any, error) {
	switch v := value.(type) {
	case string:
		rewritten, detections, err := e.DeidentifyField(ctx, v, subjectID, key)
		if err != nil {
			return nil, err
		}
		*all = append(*all, detections...)
		return rewritten, nil
	case map[string]any:
		return e.walkMap(ctx, v, subjectID, all)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rewritten, err := e.walkValue(ctx, key, item, subjectID, all)
			if err != nil {
				return nil, err
			}
			out[i] = rewritten
		}
		return out, nil
	default:
		// Numbers, booleans, and nulls pass through unscanned. Counted so
		// run statistics show how much of the record was never inspected.
		e.stats.addFieldWarning()
		e.logger.Debug("Field skipped by scanner",
			zap.String("field", key),
		)
		return value, nil
	}
}

// ResolveSubjectID finds the record's subject identifier from the
// well-known candidate fields, falling back to the shared global key.
func ResolveSubjectID(record map[string]any) string {
	lowered := make(map[string]string, len(record))
	for key, value := range record {
		if s, ok := value.(string); ok && s != "" {
			lowered[strings.ToLower(key)] = s
		}
	}
	for _, field := range subjectFieldCandidates {
		if s, ok := lowered[field]; ok {
			return s
		}
	}
	return GlobalSubjectKey
}

// DetectOnly runs detection without substitution, for post-run validation
// of already-processed output. Date categories are excluded: shifted dates
// are deliberately retained as dates.
func (e *Engine) DetectOnly(text string) []Detection {
	accepted := e.resolveSpans(e.collect(text))
	var out []Detection
	for _, c := range accepted {
		if patterns.DateCategories[c.pattern.Category] {
			continue
		}
		out = append(out, Detection{
			Category: c.pattern.Category,
			Pattern:  c.pattern.Name,
			Start:    c.start,
			Length:   c.end - c.start,
		})
	}
	return out
}
