package dataset

import "time"

// RunStatistics is the aggregate outcome of one dataset run. It is always
// returned, even when individual files failed.
type RunStatistics struct {
	TextsProcessed       int64            `json:"texts_processed"`
	TotalDetections      int64            `json:"total_detections"`
	DetectionsByCategory map[string]int64 `json:"detections_by_category"`
	TotalMappings        int              `json:"total_mappings"`
	Jurisdictions        []string         `json:"jurisdictions"`
	FilesProcessed       int64            `json:"files_processed"`
	FilesSkipped         int64            `json:"files_skipped"`
	RecordsProcessed     int64            `json:"records_processed"`
	LinesSkipped         int64            `json:"lines_skipped"`
	FieldWarnings        int64            `json:"field_warnings"`
	Duration             time.Duration    `json:"duration"`
	Errors               []string         `json:"errors,omitempty"`
	Warnings             []string         `json:"warnings,omitempty"`
}

// Finding is one residual detection reported by Validate. It locates the
// leak without reproducing it: file, line, category, and span length only.
type Finding struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Category string `json:"category"`
	Pattern  string `json:"pattern"`
	Length   int    `json:"length"`
}

// ValidationReport is the outcome of re-scanning processed output.
type ValidationReport struct {
	FilesScanned int64         `json:"files_scanned"`
	LinesScanned int64         `json:"lines_scanned"`
	Findings     []Finding     `json:"findings"`
	Duration     time.Duration `json:"duration"`
}

// Clean reports whether the rescan found no residual detections.
func (r *ValidationReport) Clean() bool { return len(r.Findings) == 0 }
