// Package pseudonym allocates stable replacement tokens for detected PHI
// values. The same normalized value of a category always maps to the same
// pseudonym, and a pseudonym is never reused for a second value: sequence
// numbers are monotonic per category and persisted with the mapping store.
package pseudonym

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/cache"
	"github.com/clinshield/deidentify/internal/mapstore"
	"github.com/clinshield/deidentify/internal/patterns"
)

// MappingCache is the lookup surface the generator needs from the shared
// cache. *cache.MappingCache implements it.
type MappingCache interface {
	Get(ctx context.Context, fingerprint string) (*cache.CachedMapping, bool, error)
	Set(ctx context.Context, mapping *cache.CachedMapping) error
}

// Generator issues pseudonyms backed by a mapping store and, optionally, a
// shared Redis cache for cross-run lookups.
type Generator struct {
	store  *mapstore.Store
	cache  MappingCache // nil when caching is disabled
	logger *zap.Logger
}

// New creates a Generator. cache may be nil.
func New(store *mapstore.Store, mappingCache MappingCache, logger *zap.Logger) *Generator {
	return &Generator{
		store:  store,
		cache:  mappingCache,
		logger: logger,
	}
}

// Normalize canonicalizes a value before fingerprinting: trim, case-fold,
// and collapse internal whitespace, so trivially different spellings of
// the same entity share one pseudonym.
func Normalize(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(value))), " ")
}

// Fingerprint derives the irreversible lookup key for a (value, category)
// pair. Only this hash is ever stored or cached, never the value itself.
func Fingerprint(value string, cat patterns.Category) string {
	sum := sha256.Sum256([]byte(string(cat) + "\x00" + Normalize(value)))
	return hex.EncodeToString(sum[:])
}

// GetOrCreate returns the pseudonym for a value, allocating the next
// sequence number for the category on first sight. Allocation writes one
// append-only MappingEntry through the store.
func (g *Generator) GetOrCreate(ctx context.Context, value string, cat patterns.Category) (string, error) {
	prefix, ok := patterns.TokenPrefix[cat]
	if !ok {
		return "", fmt.Errorf("no pseudonym prefix for category %s", cat)
	}

	fingerprint := Fingerprint(value, cat)

	if entry, found := g.store.LookupMapping(fingerprint); found {
		return entry.Pseudonym, nil
	}

	if g.cache != nil {
		if cached, found, err := g.cache.Get(ctx, fingerprint); err == nil && found {
			g.store.RecordMapping(mapstore.MappingEntry{
				Fingerprint: fingerprint,
				Pseudonym:   cached.Pseudonym,
				Category:    cat,
				CreatedAt:   time.Now().UTC(),
			})
			// The adopted token was numbered by another process. Raise the
			// local counter past it so NextSequence never reissues it.
			if seq, ok := tokenSequence(cached.Pseudonym); ok {
				g.store.AdvanceSequence(cat, seq)
			}
			return cached.Pseudonym, nil
		}
	}

	seq := g.store.NextSequence(cat)
	token := fmt.Sprintf("%s-%04d", prefix, seq)

	entry := mapstore.MappingEntry{
		Fingerprint: fingerprint,
		Pseudonym:   token,
		Category:    cat,
		CreatedAt:   time.Now().UTC(),
	}
	g.store.RecordMapping(entry)

	if g.cache != nil {
		if err := g.cache.Set(ctx, &cache.CachedMapping{
			Fingerprint: fingerprint,
			Pseudonym:   token,
			Category:    string(cat),
		}); err != nil {
			g.logger.Warn("Failed to cache pseudonym mapping", zap.Error(err))
		}
	}

	g.logger.Debug("Pseudonym allocated",
		zap.String("category", string(cat)),
		zap.Uint64("sequence", seq),
	)
	return token, nil
}

// tokenSequence extracts the numeric suffix of a pseudonym token such as
// "PATIENT-0042".
func tokenSequence(token string) (uint64, bool) {
	i := strings.LastIndex(token, "-")
	if i < 0 || i == len(token)-1 {
		return 0, false
	}
	seq, err := strconv.ParseUint(token[i+1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
