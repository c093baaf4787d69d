package dataset

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinshield/deidentify/internal/config"
	"github.com/clinshield/deidentify/internal/dateshift"
	"github.com/clinshield/deidentify/internal/engine"
	"github.com/clinshield/deidentify/internal/logger"
	"github.com/clinshield/deidentify/internal/mapstore"
	"github.com/clinshield/deidentify/internal/patterns"
	"github.com/clinshield/deidentify/internal/pseudonym"
	"github.com/clinshield/deidentify/internal/regulation"
)

func newTestDriver(t *testing.T) (*Driver, *mapstore.Store) {
	t.Helper()
	lib, err := patterns.Build()
	if err != nil {
		t.Fatalf("building pattern library: %v", err)
	}
	manager, err := regulation.New(lib, []string{"US"}, true, logger.NewNop().Logger)
	if err != nil {
		t.Fatal(err)
	}
	store, err := mapstore.New(mapstore.Config{
		Path: filepath.Join(t.TempDir(), "mappings.json"),
	}, mapstore.UnavailableProvider{}, logger.NewNop().Logger)
	if err != nil {
		t.Fatal(err)
	}
	gen := pseudonym.New(store, nil, logger.NewNop().Logger)
	shifter := dateshift.New(dateshift.Config{Enabled: true, RangeDays: 60, Seed: 21}, store, logger.NewNop().Logger)
	eng := engine.New(config.DeidConfig{EnableDateShifting: true}, manager, gen, shifter, logger.NewNop())
	return New(eng, store, logger.NewNop()), store
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDeidentify(t *testing.T) {
	driver, store := newTestDriver(t)
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	writeFile(t, filepath.Join(inputDir, "visits.ndjson"),
		`{"subject_id":"S1","name":"John Doe","note":"SSN 123-45-6789"}`+"\n"+
			`{"subject_id":"S2","name":"Jane Roe","dob":"1990-07-04","age":35}`+"\n")
	writeFile(t, filepath.Join(inputDir, "nested", "labs.jsonl"),
		`{"subject_id":"S1","result":"reviewed by John Doe"}`+"\n")
	writeFile(t, filepath.Join(inputDir, "readme.txt"), "not a record file\n")

	stats, err := driver.Deidentify(context.Background(), inputDir, outputDir, true, []string{"US"})
	if err != nil {
		t.Fatalf("Deidentify: %v", err)
	}

	if stats.FilesProcessed != 2 {
		t.Errorf("FilesProcessed = %d, want 2", stats.FilesProcessed)
	}
	if stats.RecordsProcessed != 3 {
		t.Errorf("RecordsProcessed = %d, want 3", stats.RecordsProcessed)
	}
	if stats.TotalDetections == 0 {
		t.Error("no detections recorded")
	}
	if stats.FieldWarnings != 1 {
		t.Errorf("FieldWarnings = %d, want 1 for the numeric age field", stats.FieldWarnings)
	}

	t.Run("MirroredTree", func(t *testing.T) {
		for _, rel := range []string{"visits.ndjson", filepath.Join("nested", "labs.jsonl")} {
			if _, err := os.Stat(filepath.Join(outputDir, rel)); err != nil {
				t.Errorf("output file %s missing: %v", rel, err)
			}
		}
		if _, err := os.Stat(filepath.Join(outputDir, "readme.txt")); !os.IsNotExist(err) {
			t.Error("non-record file must not be copied")
		}
	})

	t.Run("ValuesRewritten", func(t *testing.T) {
		raw, err := os.ReadFile(filepath.Join(outputDir, "visits.ndjson"))
		if err != nil {
			t.Fatal(err)
		}
		content := string(raw)
		for _, leak := range []string{"John Doe", "Jane Roe", "123-45-6789", "1990-07-04"} {
			if strings.Contains(content, leak) {
				t.Errorf("output contains original value %q", leak)
			}
		}

		lines := strings.Split(strings.TrimSpace(content), "\n")
		if len(lines) != 2 {
			t.Fatalf("output has %d lines, want 2", len(lines))
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
			t.Fatalf("output line is not JSON: %v", err)
		}
		if record["subject_id"] != "S1" {
			t.Errorf("subject_id = %v, want S1", record["subject_id"])
		}
	})

	t.Run("SameNameSameToken", func(t *testing.T) {
		visits, err := os.ReadFile(filepath.Join(outputDir, "visits.ndjson"))
		if err != nil {
			t.Fatal(err)
		}
		labs, err := os.ReadFile(filepath.Join(outputDir, "nested", "labs.jsonl"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(visits), "PATIENT-0001") || !strings.Contains(string(labs), "PATIENT-0001") {
			t.Error("the same name must carry one token across files")
		}
	})

	t.Run("MappingArtifactPersisted", func(t *testing.T) {
		if store.MappingCount() == 0 {
			t.Error("no mappings recorded")
		}
	})

	t.Run("OutputValidatesClean", func(t *testing.T) {
		report, err := driver.Validate(context.Background(), outputDir)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if !report.Clean() {
			t.Errorf("residual findings in clean output: %+v", report.Findings)
		}
		if report.FilesScanned != 2 {
			t.Errorf("FilesScanned = %d, want 2", report.FilesScanned)
		}
	})
}

func TestDeidentifySkipsMalformedLines(t *testing.T) {
	driver, _ := newTestDriver(t)
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	writeFile(t, filepath.Join(inputDir, "mixed.ndjson"),
		`{"subject_id":"S1","name":"John Doe"}`+"\n"+
			"this is not json\n"+
			`{"subject_id":"S1","note":"follow-up"}`+"\n")

	stats, err := driver.Deidentify(context.Background(), inputDir, outputDir, false, []string{"US"})
	if err != nil {
		t.Fatalf("Deidentify: %v", err)
	}
	if stats.LinesSkipped != 1 {
		t.Errorf("LinesSkipped = %d, want 1", stats.LinesSkipped)
	}
	if stats.RecordsProcessed != 2 {
		t.Errorf("RecordsProcessed = %d, want 2", stats.RecordsProcessed)
	}

	raw, err := os.ReadFile(filepath.Join(outputDir, "mixed.ndjson"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Split(strings.TrimSpace(string(raw)), "\n"); len(lines) != 2 {
		t.Errorf("output has %d lines, want 2 (malformed line dropped)", len(lines))
	}
}

func TestDeidentifySubdirGate(t *testing.T) {
	driver, _ := newTestDriver(t)
	inputDir := t.TempDir()
	outputDir := t.TempDir()

	writeFile(t, filepath.Join(inputDir, "top.ndjson"), `{"subject_id":"S1","name":"John Doe"}`+"\n")
	writeFile(t, filepath.Join(inputDir, "sub", "deep.ndjson"), `{"subject_id":"S2","name":"Jane Roe"}`+"\n")

	stats, err := driver.Deidentify(context.Background(), inputDir, outputDir, false, []string{"US"})
	if err != nil {
		t.Fatalf("Deidentify: %v", err)
	}
	if stats.FilesProcessed != 1 {
		t.Errorf("FilesProcessed = %d, want 1", stats.FilesProcessed)
	}
	if _, err := os.Stat(filepath.Join(outputDir, "sub", "deep.ndjson")); !os.IsNotExist(err) {
		t.Error("subdirectory processed despite process_subdirs=false")
	}
}

func TestValidateReportsResiduals(t *testing.T) {
	driver, _ := newTestDriver(t)
	dir := t.TempDir()

	// A processed file with a national ID that leaked through.
	writeFile(t, filepath.Join(dir, "out.ndjson"),
		`{"subject_id":"S1","note":"clean line"}`+"\n"+
			`{"subject_id":"S1","note":"left behind 123-45-6789"}`+"\n")

	report, err := driver.Validate(context.Background(), dir)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if report.Clean() {
		t.Fatal("residual national ID not reported")
	}
	if len(report.Findings) != 1 {
		t.Fatalf("findings = %+v, want exactly one", report.Findings)
	}
	f := report.Findings[0]
	if f.File != "out.ndjson" || f.Line != 2 {
		t.Errorf("finding located at %s:%d, want out.ndjson:2", f.File, f.Line)
	}
	if f.Category != string(patterns.CategoryNationalID) {
		t.Errorf("finding category = %s", f.Category)
	}
	if f.Length != len("123-45-6789") {
		t.Errorf("finding length = %d", f.Length)
	}
}
