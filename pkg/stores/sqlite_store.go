package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/automaxhq/automax/pkg/runner"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrRunNotFound is returned when a run id has no record.
var ErrRunNotFound = errors.New("run not found")

// HistoryStore persists run reports to SQLite.
type HistoryStore struct {
	db   *sql.DB
	path string
}

// Config holds history store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewHistoryStore creates a new history store instance.
func NewHistoryStore(cfg Config) (*HistoryStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &HistoryStore{path: cfg.Path}, nil
}

// Init opens the database, enables WAL mode, and runs migrations.
func (s *HistoryStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return s.migrate()
}

// Close closes the database connection.
func (s *HistoryStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *HistoryStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// SaveReport persists a completed run report and its per-sub-step outcomes
// in one transaction.
func (s *HistoryStore) SaveReport(ctx context.Context, report *runner.Report) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	completedAt := report.StartedAt.Add(report.Duration)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, status, dry_run, started_at, completed_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, string(report.Status), report.DryRun,
		report.StartedAt.UTC(), completedAt.UTC(),
		report.Duration.Milliseconds(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i := range report.Results {
		res := &report.Results[i]
		var errText, errKind *string
		if res.Err != nil {
			msg := res.Err.Error()
			errText = &msg
			errKind = &res.ErrorKind
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO substep_results (run_id, step_id, substep_id, plugin, state, attempts, duration_ms, error, error_kind, position)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			report.RunID, res.StepID, res.SubstepID, res.Plugin, string(res.State),
			res.Attempts, res.Duration.Milliseconds(), errText, errKind, i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert sub-step result: %w", err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run record by id.
func (s *HistoryStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, dry_run, started_at, completed_at, duration_ms, created_at
		FROM runs WHERE id = ?`, id)

	var record RunRecord
	err := row.Scan(&record.ID, &record.Status, &record.DryRun,
		&record.StartedAt, &record.CompletedAt, &record.DurationMS, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &record, nil
}

// ListRuns retrieves run records, newest first.
func (s *HistoryStore) ListRuns(ctx context.Context, filter ListFilter) ([]*RunRecord, error) {
	query := `
		SELECT id, status, dry_run, started_at, completed_at, duration_ms, created_at
		FROM runs`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var records []*RunRecord
	for rows.Next() {
		var record RunRecord
		if err := rows.Scan(&record.ID, &record.Status, &record.DryRun,
			&record.StartedAt, &record.CompletedAt, &record.DurationMS, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// GetSubstepResults retrieves the sub-step outcomes of one run in execution
// order.
func (s *HistoryStore) GetSubstepResults(ctx context.Context, runID string) ([]*SubstepRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, step_id, substep_id, plugin, state, attempts, duration_ms, error, error_kind, position
		FROM substep_results WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-step results: %w", err)
	}
	defer rows.Close()

	var records []*SubstepRecord
	for rows.Next() {
		var record SubstepRecord
		if err := rows.Scan(&record.ID, &record.RunID, &record.StepID, &record.SubstepID,
			&record.Plugin, &record.State, &record.Attempts, &record.DurationMS,
			&record.Error, &record.ErrorKind, &record.Position); err != nil {
			return nil, fmt.Errorf("failed to scan sub-step result: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Prune deletes runs older than the cutoff. Sub-step results go with them
// through the foreign key cascade.
func (s *HistoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}
