// Package dateshift applies a per-subject random day offset to date
// values. Every date belonging to one subject is moved by the same offset,
// so relative distances between a subject's dates survive exactly while
// absolute dates are destroyed.
package dateshift

import (
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/mapstore"
)

// layouts are the date formats the shifter understands. A shifted date is
// re-rendered in the layout of the input, so record formats are preserved.
var layouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2.1.2006",
}

// Config controls offset allocation.
type Config struct {
	// Enabled selects real shifting; when false every offset is zero.
	Enabled bool
	// RangeDays bounds the offset magnitude (offset in [-RangeDays,
	// RangeDays], never zero).
	RangeDays int
	// Seed makes offset allocation reproducible across reruns of the same
	// configuration. Zero seeds from the current time.
	Seed int64
}

// Shifter allocates and applies per-subject date offsets. Offsets are
// recorded through the mapping store so a subject keeps its offset for the
// lifetime of the run (and across runs when the store is reloaded).
type Shifter struct {
	config Config
	store  *mapstore.Store
	rng    *rand.Rand
	logger *zap.Logger
}

// New creates a Shifter. The generator is deliberately math/rand: offsets
// need reproducibility, not cryptographic strength.
func New(config Config, store *mapstore.Store, logger *zap.Logger) *Shifter {
	if config.RangeDays <= 0 {
		config.RangeDays = 60
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Shifter{
		config: config,
		store:  store,
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger,
	}
}

// OffsetFor returns the subject's day offset, allocating it on first use.
// The offset is drawn from [-RangeDays, RangeDays] excluding zero; with
// shifting disabled it is always zero.
func (s *Shifter) OffsetFor(subjectID string) int {
	if !s.config.Enabled {
		return 0
	}
	if offset, ok := s.store.LookupDateShift(subjectID); ok {
		return offset
	}

	// n in [1, 2R] maps onto [-R, -1] followed by [1, R]: values at or
	// below zero shift down one to skip zero, keeping both bounds exact.
	n := s.rng.Intn(2*s.config.RangeDays) + 1
	offset := n - s.config.RangeDays
	if offset <= 0 {
		offset--
	}

	s.store.RecordDateShift(mapstore.DateShiftRecord{
		SubjectID:  subjectID,
		OffsetDays: offset,
	})
	// Another writer may have won the race; the stored value is canonical.
	if stored, ok := s.store.LookupDateShift(subjectID); ok {
		offset = stored
	}

	s.logger.Debug("Date shift allocated", zap.Int("offset_days", offset))
	return offset
}

// Shift parses value, applies the subject's offset in calendar days, and
// re-renders the result in the input's own layout.
func (s *Shifter) Shift(value, subjectID string) (string, error) {
	layout, parsed, err := parseDate(value)
	if err != nil {
		return "", err
	}
	offset := s.OffsetFor(subjectID)
	if offset == 0 {
		return value, nil
	}
	return parsed.AddDate(0, 0, offset).Format(layout), nil
}

// parseDate finds the layout that round-trips the input exactly; when none
// does, the first successfully parsing layout wins.
func parseDate(value string) (string, time.Time, error) {
	var fallbackLayout string
	var fallback time.Time
	for _, layout := range layouts {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if t.Format(layout) == value {
			return layout, t, nil
		}
		if fallbackLayout == "" {
			fallbackLayout = layout
			fallback = t
		}
	}
	if fallbackLayout != "" {
		return fallbackLayout, fallback, nil
	}
	// Error text never carries the value itself; dates are PHI.
	return "", time.Time{}, fmt.Errorf("unsupported date format (%d chars)", len(value))
}
