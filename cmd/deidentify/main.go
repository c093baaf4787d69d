package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/clinshield/deidentify/internal/audit"
	"github.com/clinshield/deidentify/internal/cache"
	"github.com/clinshield/deidentify/internal/config"
	"github.com/clinshield/deidentify/internal/dataset"
	"github.com/clinshield/deidentify/internal/dateshift"
	"github.com/clinshield/deidentify/internal/engine"
	"github.com/clinshield/deidentify/internal/logger"
	"github.com/clinshield/deidentify/internal/mapstore"
	"github.com/clinshield/deidentify/internal/patterns"
	"github.com/clinshield/deidentify/internal/pseudonym"
	"github.com/clinshield/deidentify/internal/regulation"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath   = flag.String("config", "", "Path to configuration file")
		inputDir     = flag.String("input", "", "Input directory of newline-delimited JSON files")
		outputDir    = flag.String("output", "", "Output directory for de-identified files")
		validatePath = flag.String("validate", "", "Re-scan an already-processed directory and report residual detections")
		showVersion  = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("deidentify %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *validatePath == "" && (*inputDir == "" || *outputDir == "") {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input data/original --output data/deidentified\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --validate data/deidentified\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	runID := uuid.New()
	log = log.WithRunID(runID.String())

	log.Info("Starting deidentify",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Strings("jurisdictions", cfg.Deid.Jurisdictions),
		zap.Bool("encryption", cfg.Deid.EnableEncryption),
		zap.Bool("date_shifting", cfg.Deid.EnableDateShifting),
	)

	if *configPath != "" {
		// Runs are batch-shaped, so a changed file never reconfigures a run
		// in flight. Logging the new effective settings makes edits visible
		// while the process is up.
		err := config.Watch(cfg, func(updated *config.Config) {
			log.Info("Configuration file changed",
				zap.Strings("jurisdictions", updated.Deid.Jurisdictions),
				zap.Bool("encryption", updated.Deid.EnableEncryption),
				zap.Bool("date_shifting", updated.Deid.EnableDateShifting),
				zap.Int("date_shift_range", updated.Deid.DateShiftRange),
			)
		})
		if err != nil {
			log.Warn("Configuration watch unavailable", zap.Error(err))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("Shutdown signal received, cancelling run", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, log, runID, *inputDir, *outputDir, *validatePath); err != nil {
		log.Fatal("Run failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger, runID uuid.UUID, inputDir, outputDir, validatePath string) error {
	startedAt := time.Now()

	// Fatal configuration problems surface here, before any data is read.
	library, err := patterns.Build()
	if err != nil {
		return fmt.Errorf("pattern library build failed: %w", err)
	}

	manager, err := regulation.New(library, cfg.Deid.Jurisdictions, cfg.Deid.EnableJurisdictionPatterns, log.Logger)
	if err != nil {
		return fmt.Errorf("regulation manager init failed: %w", err)
	}

	var crypto mapstore.CryptoProvider = mapstore.UnavailableProvider{}
	if cfg.Deid.EnableEncryption {
		provider, err := mapstore.NewAESProviderFromKeyFile(cfg.Mapping.KeyPath)
		if err != nil {
			return fmt.Errorf("%w: %v", mapstore.ErrCryptoUnavailable, err)
		}
		crypto = provider
	}

	store, err := mapstore.New(mapstore.Config{
		Path:    cfg.Mapping.Path,
		Encrypt: cfg.Deid.EnableEncryption,
	}, crypto, log.Logger)
	if err != nil {
		return err
	}
	if err := store.Load(); err != nil {
		return err
	}

	var sharedCache pseudonym.MappingCache
	if cfg.Cache.Enabled {
		mappingCache, err := cache.New(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize mapping cache: %w", err)
		}
		defer mappingCache.Close()
		sharedCache = mappingCache
	}

	generator := pseudonym.New(store, sharedCache, log.Logger)
	shifter := dateshift.New(dateshift.Config{
		Enabled:   cfg.Deid.EnableDateShifting,
		RangeDays: cfg.Deid.DateShiftRange,
		Seed:      cfg.Deid.DateShiftSeed,
	}, store, log.Logger)

	eng := engine.New(cfg.Deid, manager, generator, shifter, log)
	driver := dataset.New(eng, store, log)

	if validatePath != "" {
		return runValidation(ctx, driver, validatePath)
	}

	stats, err := driver.Deidentify(ctx, inputDir, outputDir, cfg.Deid.ProcessSubdirs, manager.Jurisdictions())
	if err != nil {
		return err
	}

	if !cfg.Deid.EnableEncryption {
		stats.Warnings = append(stats.Warnings,
			"mapping artifact written as PLAINTEXT: enable_encryption is false")
	}

	printSummary(stats)

	if cfg.Deid.EnableValidation {
		report, err := driver.Validate(ctx, outputDir)
		if err != nil {
			return fmt.Errorf("post-run validation failed: %w", err)
		}
		printValidation(report)
	}

	if cfg.Audit.Enabled {
		if err := recordAudit(ctx, cfg, log, runID, startedAt, stats); err != nil {
			// Auditing is best-effort: the run itself succeeded.
			log.Warn("Failed to record audit row", zap.Error(err))
		}
	}
	return nil
}

func runValidation(ctx context.Context, driver *dataset.Driver, path string) error {
	report, err := driver.Validate(ctx, path)
	if err != nil {
		return err
	}
	printValidation(report)
	if !report.Clean() {
		os.Exit(2)
	}
	return nil
}

func printSummary(stats *dataset.RunStatistics) {
	fmt.Printf("\n=== De-identification Run Summary ===\n")
	fmt.Printf("Files processed:    %d (skipped: %d)\n", stats.FilesProcessed, stats.FilesSkipped)
	fmt.Printf("Records processed:  %d (lines skipped: %d)\n", stats.RecordsProcessed, stats.LinesSkipped)
	fmt.Printf("Texts processed:    %d\n", stats.TextsProcessed)
	fmt.Printf("Total detections:   %d\n", stats.TotalDetections)
	for category, count := range stats.DetectionsByCategory {
		fmt.Printf("  %-22s %d\n", category+":", count)
	}
	fmt.Printf("Total mappings:     %d\n", stats.TotalMappings)
	fmt.Printf("Jurisdictions:      %v\n", stats.Jurisdictions)
	fmt.Printf("Duration:           %v\n", stats.Duration)
	for _, e := range stats.Errors {
		fmt.Printf("ERROR: %s\n", e)
	}
	for _, w := range stats.Warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
}

func printValidation(report *dataset.ValidationReport) {
	fmt.Printf("\n=== Validation Report ===\n")
	fmt.Printf("Files scanned: %d, lines scanned: %d\n", report.FilesScanned, report.LinesScanned)
	if report.Clean() {
		fmt.Printf("No residual detections.\n")
		return
	}
	fmt.Printf("RESIDUAL DETECTIONS: %d\n", len(report.Findings))
	for _, f := range report.Findings {
		fmt.Printf("  %s:%d %s (%s, %d chars)\n", f.File, f.Line, f.Category, f.Pattern, f.Length)
	}
}

func recordAudit(ctx context.Context, cfg *config.Config, log *logger.Logger, runID uuid.UUID, startedAt time.Time, stats *dataset.RunStatistics) error {
	store, err := audit.NewStore(&audit.Config{
		DatabaseURL:     cfg.Audit.DatabaseURL,
		MaxOpenConns:    cfg.Audit.MaxOpenConns,
		MaxIdleConns:    cfg.Audit.MaxIdleConns,
		ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
	}, log.Logger)
	if err != nil {
		return err
	}
	defer store.Close()

	return store.InsertRun(ctx, &audit.RunRecord{
		ID:               runID,
		StartedAt:        startedAt,
		FinishedAt:       time.Now(),
		Jurisdictions:    pq.StringArray(stats.Jurisdictions),
		Encrypted:        cfg.Deid.EnableEncryption,
		DateShifting:     cfg.Deid.EnableDateShifting,
		TextsProcessed:   stats.TextsProcessed,
		TotalDetections:  stats.TotalDetections,
		TotalMappings:    int64(stats.TotalMappings),
		FilesProcessed:   stats.FilesProcessed,
		FilesSkipped:     stats.FilesSkipped,
		RecordsProcessed: stats.RecordsProcessed,
		LinesSkipped:     stats.LinesSkipped,
		Warnings:         pq.StringArray(stats.Warnings),
	})
}
