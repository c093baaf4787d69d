package engine

import (
	"sync"

	"github.com/clinshield/deidentify/internal/patterns"
)

// Detection describes one redacted span: its category and where it was in
// the original text. The matched substring itself is never carried, so
// detections are safe to log and aggregate.
type Detection struct {
	Category patterns.Category `json:"category"`
	Pattern  string            `json:"pattern"`
	Start    int               `json:"start"`
	Length   int               `json:"length"`
}

// Stats accumulates engine-level counters for one run.
type Stats struct {
	mu                   sync.Mutex
	TextsProcessed       int64
	TotalDetections      int64
	DetectionsByCategory map[string]int64
	FieldWarnings        int64
}

func newStats() *Stats {
	return &Stats{DetectionsByCategory: make(map[string]int64)}
}

func (s *Stats) addText(detections []Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TextsProcessed++
	s.TotalDetections += int64(len(detections))
	for _, d := range detections {
		s.DetectionsByCategory[string(d.Category)]++
	}
}

func (s *Stats) addFieldWarning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.FieldWarnings++
}

// Snapshot returns a copy safe to read while processing continues.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	byCat := make(map[string]int64, len(s.DetectionsByCategory))
	for k, v := range s.DetectionsByCategory {
		byCat[k] = v
	}
	return StatsSnapshot{
		TextsProcessed:       s.TextsProcessed,
		TotalDetections:      s.TotalDetections,
		DetectionsByCategory: byCat,
		FieldWarnings:        s.FieldWarnings,
	}
}

// StatsSnapshot is an immutable copy of Stats.
type StatsSnapshot struct {
	TextsProcessed       int64            `json:"texts_processed"`
	TotalDetections      int64            `json:"total_detections"`
	DetectionsByCategory map[string]int64 `json:"detections_by_category"`
	FieldWarnings        int64            `json:"field_warnings"`
}
