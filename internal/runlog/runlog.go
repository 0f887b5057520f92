// Package runlog records reconstruction runs in a SQLite ledger. The
// schema is managed by golang-migrate from migrations embedded in the
// binary.
package runlog

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
	_ "modernc.org/sqlite"

	"github.com/dreamseal/facerecon/internal/recon"
	"github.com/dreamseal/facerecon/internal/recon/pipeline"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is one ledger row.
type Run struct {
	ID            string
	StartedAt     time.Time
	FrameCount    int
	Success       bool
	ErrorKind     recon.ErrorKind
	ErrorDetail   string
	VertexCount   int
	FaceCount     int
	ProcessingMs  int64
	OutputPath    string
	AlignedFrames int
	Degraded      bool
	DepthMean     float64
	DepthStd      float64
}

// FromResult builds a ledger row from a pipeline result.
func FromResult(res *pipeline.ReconstructionResult, startedAt time.Time) Run {
	return Run{
		ID:            res.SessionID,
		StartedAt:     startedAt,
		FrameCount:    res.FrameCount,
		Success:       res.Success,
		ErrorKind:     res.ErrorKind,
		ErrorDetail:   res.ErrorDetail,
		VertexCount:   res.VertexCount,
		FaceCount:     res.FaceCount,
		ProcessingMs:  res.ProcessingTimeMs,
		OutputPath:    res.OutputPath,
		AlignedFrames: res.AlignedFrames,
		Degraded:      res.Degraded,
		DepthMean:     res.DepthMean,
		DepthStd:      res.DepthStd,
	}
}

// Store is an open ledger.
type Store struct {
	db     *sql.DB
	logger *recon.Logger
}

// Open opens or creates the ledger at path and migrates it to the latest
// schema.
func Open(path string, logger *recon.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	s := &Store{db: db, logger: logger}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// MigrateUp applies every pending migration.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// Version returns the schema version and dirty flag; 0 means no migration
// has been applied.
func (s *Store) Version() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
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
	m.Log = &migrateLogger{logger: s.logger}
	return m, nil
}

type migrateLogger struct {
	logger *recon.Logger
}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	l.logger.Diagf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// Record inserts or replaces a run.
func (s *Store) Record(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (
			run_id, started_at_ns, frame_count, success, error_kind, error_detail,
			vertex_count, face_count, processing_ms, output_path,
			aligned_frames, degraded, depth_mean_m, depth_std_m
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixNano(), r.FrameCount, r.Success, string(r.ErrorKind), r.ErrorDetail,
		r.VertexCount, r.FaceCount, r.ProcessingMs, r.OutputPath,
		r.AlignedFrames, r.Degraded, r.DepthMean, r.DepthStd,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.ID, err)
	}
	return nil
}

const selectRuns = `
	SELECT run_id, started_at_ns, frame_count, success, error_kind, error_detail,
		vertex_count, face_count, processing_ms, output_path,
		aligned_frames, degraded, depth_mean_m, depth_std_m
	FROM runs`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var startedNs int64
	var kind string
	err := row.Scan(&r.ID, &startedNs, &r.FrameCount, &r.Success, &kind, &r.ErrorDetail,
		&r.VertexCount, &r.FaceCount, &r.ProcessingMs, &r.OutputPath,
		&r.AlignedFrames, &r.Degraded, &r.DepthMean, &r.DepthStd)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, startedNs).UTC()
	r.ErrorKind = recon.ErrorKind(kind)
	return r, nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at_ns DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Stats summarises the ledger.
type Stats struct {
	Runs      int
	Succeeded int
	// ByErrorKind counts failed runs per kind.
	ByErrorKind map[recon.ErrorKind]int
}

// Summary counts runs by outcome.
func (s *Store) Summary(ctx context.Context) (Stats, error) {
	st := Stats{ByErrorKind: make(map[recon.ErrorKind]int)}
	rows, err := s.db.QueryContext(ctx, `SELECT success, error_kind, COUNT(*) FROM runs GROUP BY success, error_kind`)
	if err != nil {
		return st, fmt.Errorf("summarise runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ok bool
		var kind string
		var n int
		if err := rows.Scan(&ok, &kind, &n); err != nil {
			return st, err
		}
		st.Runs += n
		if ok {
			st.Succeeded += n
		} else {
			st.ByErrorKind[recon.ErrorKind(kind)] += n
		}
	}
	return st, rows.Err()
}
