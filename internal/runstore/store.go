// Package runstore keeps a sqlite ledger of finished acquisitions.
package runstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/zeus2/zeus2be/internal/hardware"
	"github.com/zeus2/zeus2be/internal/monitoring"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var logf = monitoring.Tagged("runstore")

// timeLayout is fixed width so stored times sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Run is one ledger row.
type Run struct {
	ID string `json:"id"`
	hardware.RunRecord
}

// Store is the run ledger.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the ledger at path, creating it and applying pending
// migrations as needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateUp applies every pending migration. The migrate instance is not
// closed because that would close the shared database handle.
func (s *Store) migrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// RecordRun implements hardware.RunRecorder.
func (s *Store) RecordRun(ctx context.Context, r hardware.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, filename, mode, integration_ms, sync_us, blank_us,
			reads_per_phase, total_frames, grating_index, beam_number,
			error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), r.Filename, r.Mode, r.IntegrationMS, r.SyncUS, r.BlankUS,
		r.ReadsPerPhase, r.TotalFrames, r.GratingIndex, r.BeamNumber,
		r.Error, r.Started.UTC().Format(timeLayout), r.Finished.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.Filename, err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, filename, mode, integration_ms, sync_us, blank_us,
			reads_per_phase, total_frames, grating_index, beam_number,
			error, started_at, finished_at
		FROM runs ORDER BY finished_at DESC, rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
		)
		if err := rows.Scan(
			&run.ID, &run.Filename, &run.Mode, &run.IntegrationMS, &run.SyncUS, &run.BlankUS,
			&run.ReadsPerPhase, &run.TotalFrames, &run.GratingIndex, &run.BeamNumber,
			&run.Error, &started, &finished,
		); err != nil {
			return nil, err
		}
		if run.Started, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("run %s start time: %w", run.ID, err)
		}
		if run.Finished, err = time.Parse(timeLayout, finished); err != nil {
			return nil, fmt.Errorf("run %s finish time: %w", run.ID, err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }
