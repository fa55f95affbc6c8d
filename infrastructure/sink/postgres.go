package sink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // registers the postgres driver
	"go.uber.org/zap"

	"github.com/ahrav/go-cadmark/internal/domain"
	"github.com/ahrav/go-cadmark/internal/ports"
)

// DefaultTable receives one row per graded submission.
const DefaultTable = "submission_results"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var _ ports.ResultSink = (*PostgresSink)(nil)

// resultRow is the database form of a domain.SubmissionResult. Property
// and mark columns are NULL for failed submissions.
type resultRow struct {
	RunID           string          `db:"run_id"`
	StudentID       string          `db:"student_id"`
	SourcePath      string          `db:"source_path"`
	Status          string          `db:"status"`
	Volume          sql.NullFloat64 `db:"volume"`
	SurfaceArea     sql.NullFloat64 `db:"surface_area"`
	CGX             sql.NullFloat64 `db:"cg_x"`
	CGY             sql.NullFloat64 `db:"cg_y"`
	CGZ             sql.NullFloat64 `db:"cg_z"`
	VolumeMark      sql.NullFloat64 `db:"volume_mark"`
	SurfaceAreaMark sql.NullFloat64 `db:"surface_area_mark"`
	CGMark          sql.NullFloat64 `db:"cg_mark"`
	Attempts        int             `db:"attempts"`
	Error           sql.NullString  `db:"error"`
	GradedAt        time.Time       `db:"graded_at"`
}

// PostgresSink stores runs in PostgreSQL so results can be joined with a
// gradebook. Every run is written in a single transaction.
type PostgresSink struct {
	db     *sqlx.DB
	table  string
	logger *zap.Logger
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresSink creates a sink writing to table, or DefaultTable when
// table is empty.
func NewPostgresSink(db *sqlx.DB, table string, logger *zap.Logger) (*PostgresSink, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q: %w", table, domain.ErrInvalidConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{db: db, table: table, logger: logger}, nil
}

// Name implements ports.ResultSink.
func (s *PostgresSink) Name() string { return "postgres" }

// EnsureSchema creates the results table if it does not exist.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.createTableSQL())
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresSink) createTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + s.table + ` (
		run_id            UUID        NOT NULL,
		student_id        TEXT        NOT NULL,
		source_path       TEXT        NOT NULL,
		status            TEXT        NOT NULL,
		volume            DOUBLE PRECISION,
		surface_area      DOUBLE PRECISION,
		cg_x              DOUBLE PRECISION,
		cg_y              DOUBLE PRECISION,
		cg_z              DOUBLE PRECISION,
		volume_mark       DOUBLE PRECISION,
		surface_area_mark DOUBLE PRECISION,
		cg_mark           DOUBLE PRECISION,
		attempts          INTEGER     NOT NULL,
		error             TEXT,
		graded_at         TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, source_path)
	)`
}

func (s *PostgresSink) insertSQL() string {
	return `INSERT INTO ` + s.table + ` (
			run_id, student_id, source_path, status,
			volume, surface_area, cg_x, cg_y, cg_z,
			volume_mark, surface_area_mark, cg_mark,
			attempts, error, graded_at
		) VALUES (
			:run_id, :student_id, :source_path, :status,
			:volume, :surface_area, :cg_x, :cg_y, :cg_z,
			:volume_mark, :surface_area_mark, :cg_mark,
			:attempts, :error, :graded_at
		)
		ON CONFLICT (run_id, source_path) DO UPDATE SET
			student_id = EXCLUDED.student_id,
			status = EXCLUDED.status,
			volume = EXCLUDED.volume,
			surface_area = EXCLUDED.surface_area,
			cg_x = EXCLUDED.cg_x,
			cg_y = EXCLUDED.cg_y,
			cg_z = EXCLUDED.cg_z,
			volume_mark = EXCLUDED.volume_mark,
			surface_area_mark = EXCLUDED.surface_area_mark,
			cg_mark = EXCLUDED.cg_mark,
			attempts = EXCLUDED.attempts,
			error = EXCLUDED.error,
			graded_at = EXCLUDED.graded_at`
}

// Write implements ports.ResultSink.
func (s *PostgresSink) Write(ctx context.Context, run domain.BatchRun) error {
	rows := toRows(run)
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.PrepareNamedContext(ctx, s.insertSQL())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert result for %s: %w", r.StudentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Info("results stored", zap.String("table", s.table), zap.Int("rows", len(rows)))
	return nil
}

func toRows(run domain.BatchRun) []resultRow {
	gradedAt := run.FinishedAt
	if gradedAt.IsZero() {
		gradedAt = time.Now()
	}

	rows := make([]resultRow, 0, len(run.Results))
	for _, r := range run.Results {
		row := resultRow{
			RunID:      run.ID,
			StudentID:  r.StudentID,
			SourcePath: r.SourcePath,
			Status:     r.Status.String(),
			Attempts:   r.Attempts,
			GradedAt:   gradedAt.UTC(),
		}
		if p := r.Properties; p != nil {
			row.Volume = valid(p.Volume)
			row.SurfaceArea = valid(p.SurfaceArea)
			row.CGX = valid(p.CenterOfGravity.X)
			row.CGY = valid(p.CenterOfGravity.Y)
			row.CGZ = valid(p.CenterOfGravity.Z)
		}
		if m := r.Marks; m != nil {
			row.VolumeMark = valid(m.VolumeMark)
			row.SurfaceAreaMark = valid(m.SurfaceAreaMark)
			row.CGMark = valid(m.CGMark)
		}
		if r.Err != nil {
			row.Error = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		rows = append(rows, row)
	}
	return rows
}

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }
