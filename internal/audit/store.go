// Package audit persists per-run summaries to PostgreSQL. Rows carry
// counters and configuration flags only; no PHI and no mapping data ever
// reach the audit database.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Config contains database configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// RunRecord is one persisted run summary.
type RunRecord struct {
	ID               uuid.UUID      `db:"id"`
	StartedAt        time.Time      `db:"started_at"`
	FinishedAt       time.Time      `db:"finished_at"`
	Jurisdictions    pq.StringArray `db:"jurisdictions"`
	Encrypted        bool           `db:"encrypted"`
	DateShifting     bool           `db:"date_shifting"`
	TextsProcessed   int64          `db:"texts_processed"`
	TotalDetections  int64          `db:"total_detections"`
	TotalMappings    int64          `db:"total_mappings"`
	FilesProcessed   int64          `db:"files_processed"`
	FilesSkipped     int64          `db:"files_skipped"`
	RecordsProcessed int64          `db:"records_processed"`
	LinesSkipped     int64          `db:"lines_skipped"`
	Warnings         pq.StringArray `db:"warnings"`
}

const schema = `
CREATE TABLE IF NOT EXISTS deid_runs (
	id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	jurisdictions TEXT[] NOT NULL,
	encrypted BOOLEAN NOT NULL,
	date_shifting BOOLEAN NOT NULL,
	texts_processed BIGINT NOT NULL,
	total_detections BIGINT NOT NULL,
	total_mappings BIGINT NOT NULL,
	files_processed BIGINT NOT NULL,
	files_skipped BIGINT NOT NULL,
	records_processed BIGINT NOT NULL,
	lines_skipped BIGINT NOT NULL,
	warnings TEXT[] NOT NULL DEFAULT '{}'
)`

// Store handles audit persistence with PostgreSQL.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewStore connects, verifies the connection, and ensures the schema.
func NewStore(config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := &Store{db: db, logger: logger}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit store: %w", err)
	}

	logger.Info("Audit store initialized",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
	)
	return store, nil
}

func (s *Store) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// InsertRun records one completed run.
func (s *Store) InsertRun(ctx context.Context, record *RunRecord) error {
	query := `
		INSERT INTO deid_runs (
			id, started_at, finished_at, jurisdictions, encrypted, date_shifting,
			texts_processed, total_detections, total_mappings,
			files_processed, files_skipped, records_processed, lines_skipped, warnings
		) VALUES (
			:id, :started_at, :finished_at, :jurisdictions, :encrypted, :date_shifting,
			:texts_processed, :total_detections, :total_mappings,
			:files_processed, :files_skipped, :records_processed, :lines_skipped, :warnings
		)`

	if _, err := s.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("failed to insert run record: %w", err)
	}

	s.logger.Info("Run summary recorded",
		zap.String("run_id", record.ID.String()),
		zap.Int64("total_detections", record.TotalDetections),
	)
	return nil
}

// RecentRuns returns the latest run summaries, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	var runs []RunRecord
	query := `SELECT * FROM deid_runs ORDER BY finished_at DESC LIMIT $1`
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query run records: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// maskDatabaseURL hides credentials embedded in a connection URL for
// logging.
func maskDatabaseURL(url string) string {
	if at := strings.LastIndex(url, "@"); at != -1 {
		if scheme := strings.Index(url, "://"); scheme != -1 {
			return url[:scheme+3] + "***" + url[at:]
		}
	}
	return url
}
