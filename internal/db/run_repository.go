package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tOgg1/fedeploy/internal/models"
)

// Run repository errors.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrInvalidRun  = errors.New("invalid run")
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `
	id, command, project_name, target_name, host, mode, status,
	failed_step, error, backup_path, archive_size, started_at, finished_at
`

// RunRepository handles deployment run persistence.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// RunQuery filters List.
type RunQuery struct {
	Command string // Only runs of this environment command
	Limit   int    // Max results; zero means 20
}

// Create inserts a run, assigning an ID when it has none.
func (r *RunRepository) Create(ctx context.Context, run *models.Run) error {
	if run.Command == "" || run.Mode == "" {
		return ErrInvalidRun
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Status == "" {
		run.Status = models.RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO runs (`+runColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			run.Command,
			run.ProjectName,
			run.TargetName,
			run.Host,
			run.Mode,
			string(run.Status),
			run.FailedStep,
			run.Error,
			run.BackupPath,
			run.ArchiveSize,
			formatTime(run.StartedAt),
			formatTimePtr(run.FinishedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		return nil
	})
}

// Finish stores the terminal state of a run.
func (r *RunRepository) Finish(ctx context.Context, run *models.Run) error {
	if run.ID == "" {
		return ErrInvalidRun
	}
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	return r.db.TransactionWithRetry(ctx, 0, 0, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE runs
			SET status = ?, failed_step = ?, error = ?, backup_path = ?,
				archive_size = ?, finished_at = ?
			WHERE id = ?
		`,
			string(run.Status),
			run.FailedStep,
			run.Error,
			run.BackupPath,
			run.ArchiveSize,
			formatTimePtr(run.FinishedAt),
			run.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update run: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read affected rows: %w", err)
		}
		if rows == 0 {
			return ErrRunNotFound
		}
		return nil
	})
}

// Get retrieves a run by ID.
func (r *RunRepository) Get(ctx context.Context, id string) (*models.Run, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// List returns runs newest first.
func (r *RunRepository) List(ctx context.Context, query RunQuery) ([]*models.Run, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	var rows *sql.Rows
	var err error
	if query.Command != "" {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+` FROM runs
			WHERE command = ?
			ORDER BY started_at DESC
			LIMIT ?
		`, query.Command, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+runColumns+` FROM runs
			ORDER BY started_at DESC
			LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*models.Run, error) {
	var run models.Run
	var status, startedAt string
	var finishedAt sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Command,
		&run.ProjectName,
		&run.TargetName,
		&run.Host,
		&run.Mode,
		&status,
		&run.FailedStep,
		&run.Error,
		&run.BackupPath,
		&run.ArchiveSize,
		&startedAt,
		&finishedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.Status = models.RunStatus(status)
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	if finishedAt.Valid {
		parsed, err := time.Parse(timeLayout, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("invalid finished_at %q: %w", finishedAt.String, err)
		}
		run.FinishedAt = &parsed
	}
	return &run, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}
