// Package dataset walks a directory tree of newline-delimited JSON files,
// applies the de-identification engine to every record, and writes the
// rewritten records to a mirrored output tree. File- and line-level errors
// are recovered locally; only mapping-store or configuration failures
// abort a run.
package dataset

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/engine"
	"github.com/clinshield/deidentify/internal/logger"
	"github.com/clinshield/deidentify/internal/mapstore"
)

// maxLineBytes bounds a single NDJSON line; clinical notes can be large.
const maxLineBytes = 16 * 1024 * 1024

// Driver runs the engine over whole datasets.
type Driver struct {
	engine *engine.Engine
	store  *mapstore.Store
	logger *logger.Logger
}

// New creates a dataset driver.
func New(eng *engine.Engine, store *mapstore.Store, log *logger.Logger) *Driver {
	return &Driver{
		engine: eng,
		store:  store,
		logger: log.WithComponent("dataset"),
	}
}

func isRecordFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson", ".json":
		return true
	}
	return false
}

// Deidentify processes inputDir into outputDir, mirroring relative paths.
// The mapping artifact is persisted at the end of the run; statistics are
// returned even when individual files or lines were skipped.
func (d *Driver) Deidentify(ctx context.Context, inputDir, outputDir string, processSubdirs bool, jurisdictions []string) (*RunStatistics, error) {
	start := time.Now()
	stats := &RunStatistics{
		DetectionsByCategory: make(map[string]int64),
		Jurisdictions:        jurisdictions,
	}

	d.logger.Info("Starting de-identification run",
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.Bool("process_subdirs", processSubdirs),
		zap.Strings("jurisdictions", jurisdictions),
	)

	err := filepath.WalkDir(inputDir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			stats.FilesSkipped++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", path, walkErr))
			d.logger.Error("Failed to read directory entry", zap.String("path", path), zap.Error(walkErr))
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if !processSubdirs && path != inputDir {
				return fs.SkipDir
			}
			return nil
		}
		if !isRecordFile(entry.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(inputDir, path)
		if err != nil {
			return err
		}
		if err := d.processFile(ctx, path, filepath.Join(outputDir, rel), stats); err != nil {
			// Unreadable or unwritable file: recover locally, keep going.
			stats.FilesSkipped++
			stats.Errors = append(stats.Errors, fmt.Sprintf("%s: %v", rel, err))
			d.logger.Error("File skipped", zap.String("file", rel), zap.Error(err))
			return nil
		}
		stats.FilesProcessed++
		return nil
	})

	snapshot := d.engine.Stats()
	stats.TextsProcessed = snapshot.TextsProcessed
	stats.TotalDetections = snapshot.TotalDetections
	for cat, n := range snapshot.DetectionsByCategory {
		stats.DetectionsByCategory[cat] = n
	}
	stats.FieldWarnings = snapshot.FieldWarnings
	stats.TotalMappings = d.store.MappingCount()
	stats.Duration = time.Since(start)

	if err != nil {
		return stats, err
	}

	if err := d.store.Persist(); err != nil {
		// Losing the mapping artifact compromises every pseudonym issued
		// in this run; this is fatal, unlike per-file errors.
		return stats, fmt.Errorf("failed to persist mapping store: %w", err)
	}

	d.logger.Info("De-identification run completed",
		zap.Int64("files_processed", stats.FilesProcessed),
		zap.Int64("files_skipped", stats.FilesSkipped),
		zap.Int64("records_processed", stats.RecordsProcessed),
		zap.Int64("lines_skipped", stats.LinesSkipped),
		zap.Int64("texts_processed", stats.TextsProcessed),
		zap.Int64("total_detections", stats.TotalDetections),
		zap.Int("total_mappings", stats.TotalMappings),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// processFile rewrites one NDJSON file line by line. A malformed line is
// logged and skipped; the rest of the file is still processed.
func (d *Driver) processFile(ctx context.Context, inputPath, outputPath string, stats *RunStatistics) error {
	in, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer out.Close()

	writer := bufio.NewWriter(out)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}

		var record map[string]any
		if err := json.Unmarshal(line, &record); err != nil {
			stats.LinesSkipped++
			d.logger.Warn("Malformed record line skipped",
				zap.String("file", inputPath),
				zap.Int("line", lineNo),
				zap.Error(err),
			)
			continue
		}

		rewritten, _, err := d.engine.DeidentifyRecord(ctx, record)
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}

		encoded, err := json.Marshal(rewritten)
		if err != nil {
			return fmt.Errorf("line %d: failed to encode record: %w", lineNo, err)
		}
		if _, err := writer.Write(encoded); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		stats.RecordsProcessed++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return writer.Flush()
}

// Validate re-runs detection (without substitution) over already-processed
// output and reports every residual match with its file and line. The
// report is advisory: a zero-tolerance policy is the caller's decision.
func (d *Driver) Validate(ctx context.Context, dir string) (*ValidationReport, error) {
	start := time.Now()
	report := &ValidationReport{}

	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if entry.IsDir() || !isRecordFile(entry.Name()) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return d.validateFile(path, rel, report)
	})
	if err != nil {
		return report, err
	}

	report.Duration = time.Since(start)
	if report.Clean() {
		d.logger.Info("Validation passed: no residual detections",
			zap.Int64("files_scanned", report.FilesScanned),
			zap.Int64("lines_scanned", report.LinesScanned),
		)
	} else {
		d.logger.Error("Validation found residual detections in processed output",
			zap.Int("findings", len(report.Findings)),
			zap.Int64("files_scanned", report.FilesScanned),
		)
	}
	return report, nil
}

func (d *Driver) validateFile(path, rel string, report *ValidationReport) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", rel, err)
	}
	defer in.Close()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		report.LinesScanned++
		for _, det := range d.engine.DetectOnly(scanner.Text()) {
			report.Findings = append(report.Findings, Finding{
				File:     rel,
				Line:     lineNo,
				Category: string(det.Category),
				Pattern:  det.Pattern,
				Length:   det.Length,
			})
			d.logger.Warn("Residual detection in processed output",
				zap.String("file", rel),
				zap.Int("line", lineNo),
				zap.String("category", string(det.Category)),
				zap.Int("span_length", det.Length),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}
	report.FilesScanned++
	return nil
}
