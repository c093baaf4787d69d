// Package mapstore owns the durable state of a de-identification run: the
// value-to-pseudonym table, the subject-to-date-offset table, and the
// per-category pseudonym sequence counters. The serialized artifact is a
// secret: it is the only place original values are linkable, via their
// fingerprints, to pseudonyms. At-rest protection therefore defaults to
// authenticated encryption.
package mapstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/patterns"
)

// CorruptionError is returned from Load when the artifact cannot be
// decrypted or decoded: wrong key, tampering, or truncation. The store
// never returns partial tables.
type CorruptionError struct {
	Path string
	Err  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("mapping store %s is corrupt or keyed differently: %v", e.Path, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// MappingEntry links the irreversible fingerprint of one normalized
// original value to its pseudonym. The original value itself is never
// stored.
type MappingEntry struct {
	Fingerprint string            `json:"fingerprint"`
	Pseudonym   string            `json:"pseudonym"`
	Category    patterns.Category `json:"category"`
	CreatedAt   time.Time         `json:"created_at"`
}

// DateShiftRecord holds the per-subject day offset applied to every date
// belonging to that subject.
type DateShiftRecord struct {
	SubjectID  string `json:"subject_id"`
	OffsetDays int    `json:"offset_days"`
}

// storeData is the serialized form of the artifact.
type storeData struct {
	Version    int                     `json:"version"`
	Mappings   map[string]MappingEntry `json:"mappings"`
	DateShifts map[string]int          `json:"date_shifts"`
	Counters   map[string]uint64       `json:"counters"`
	SavedAt    time.Time               `json:"saved_at"`
}

// Config controls where and how the store persists.
type Config struct {
	// Path of the mapping artifact. Kept outside the output tree.
	Path string
	// Encrypt selects authenticated encryption of the artifact.
	Encrypt bool
}

// Store is the in-memory mapping state plus its persistence. All access is
// serialized behind one mutex so drivers may parallelize across files.
type Store struct {
	mu         sync.Mutex
	config     Config
	crypto     CryptoProvider
	logger     *zap.Logger
	mappings   map[string]MappingEntry
	dateShifts map[string]int
	counters   map[string]uint64
}

// New constructs an empty store. Requesting encryption with an unavailable
// provider is fatal here, before any record is processed.
func New(config Config, crypto CryptoProvider, logger *zap.Logger) (*Store, error) {
	if config.Encrypt && (crypto == nil || !crypto.Available()) {
		return nil, ErrCryptoUnavailable
	}
	if !config.Encrypt {
		logger.Warn("Mapping store encryption is DISABLED; the mapping artifact will be written as plaintext",
			zap.String("path", config.Path))
	}
	return &Store{
		config:     config,
		crypto:     crypto,
		logger:     logger,
		mappings:   make(map[string]MappingEntry),
		dateShifts: make(map[string]int),
		counters:   make(map[string]uint64),
	}, nil
}

// RecordMapping appends one fingerprint-to-pseudonym entry. Entries are
// append-only: re-recording an existing fingerprint is a no-op.
func (s *Store) RecordMapping(entry MappingEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.mappings[entry.Fingerprint]; exists {
		return
	}
	s.mappings[entry.Fingerprint] = entry
}

// LookupMapping returns the entry for a fingerprint, if recorded.
func (s *Store) LookupMapping(fingerprint string) (MappingEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.mappings[fingerprint]
	return entry, ok
}

// RecordDateShift stores the offset for a subject. First write wins; an
// offset never changes for the lifetime of the store.
func (s *Store) RecordDateShift(record DateShiftRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.dateShifts[record.SubjectID]; exists {
		return
	}
	s.dateShifts[record.SubjectID] = record.OffsetDays
}

// LookupDateShift returns the offset for a subject, if allocated.
func (s *Store) LookupDateShift(subjectID string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.dateShifts[subjectID]
	return offset, ok
}

// NextSequence allocates the next monotonic sequence number for a
// category. Counters persist inside the artifact so a reloaded store
// continues numbering instead of reissuing pseudonyms.
func (s *Store) NextSequence(cat patterns.Category) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[string(cat)]++
	return s.counters[string(cat)]
}

// AdvanceSequence raises a category counter to at least n. Called when a
// pseudonym allocated by another process is adopted locally, so this store
// never reissues an adopted sequence number to a different value.
func (s *Store) AdvanceSequence(cat patterns.Category, n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[string(cat)] < n {
		s.counters[string(cat)] = n
	}
}

// MappingCount returns the number of recorded value mappings.
func (s *Store) MappingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mappings)
}

// SubjectCount returns the number of subjects with an allocated offset.
func (s *Store) SubjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dateShifts)
}

// Persist serializes both tables and the counters to the configured path.
// The write is atomic (temp file, then rename) so a crash mid-write never
// leaves a truncated or half-encrypted artifact behind.
func (s *Store) Persist() error {
	s.mu.Lock()
	data := storeData{
		Version:    1,
		Mappings:   s.mappings,
		DateShifts: s.dateShifts,
		Counters:   s.counters,
		SavedAt:    time.Now().UTC(),
	}
	s.mu.Unlock()

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize mapping store: %w", err)
	}

	if s.config.Encrypt {
		payload, err = s.crypto.Seal(payload)
		if err != nil {
			return fmt.Errorf("failed to encrypt mapping store: %w", err)
		}
	}

	dir := filepath.Dir(s.config.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create mapping directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".mapstore-*")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write mapping artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close mapping artifact: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to restrict artifact permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.config.Path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move mapping artifact into place: %w", err)
	}

	s.logger.Info("Mapping store persisted",
		zap.String("path", s.config.Path),
		zap.Int("mappings", len(data.Mappings)),
		zap.Int("subjects", len(data.DateShifts)),
		zap.Bool("encrypted", s.config.Encrypt),
	)
	return nil
}

// Load replaces the in-memory tables with the artifact's contents. A
// missing artifact leaves the store empty (fresh run). Any decrypt or
// decode failure is a CorruptionError; the tables are left untouched.
func (s *Store) Load() error {
	payload, err := os.ReadFile(s.config.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read mapping artifact: %w", err)
	}

	if s.config.Encrypt {
		payload, err = s.crypto.Open(payload)
		if err != nil {
			return &CorruptionError{Path: s.config.Path, Err: err}
		}
	}

	var data storeData
	if err := json.Unmarshal(payload, &data); err != nil {
		return &CorruptionError{Path: s.config.Path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = data.Mappings
	if s.mappings == nil {
		s.mappings = make(map[string]MappingEntry)
	}
	s.dateShifts = data.DateShifts
	if s.dateShifts == nil {
		s.dateShifts = make(map[string]int)
	}
	s.counters = data.Counters
	if s.counters == nil {
		s.counters = make(map[string]uint64)
	}

	s.logger.Info("Mapping store loaded",
		zap.String("path", s.config.Path),
		zap.Int("mappings", len(s.mappings)),
		zap.Int("subjects", len(s.dateShifts)),
	)
	return nil
}
