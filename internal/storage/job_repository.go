package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cinebox/internal/models"
)

// ErrActiveJobExists is returned by Create when the movie already has a job
// in a non-terminal state.
var ErrActiveJobExists = errors.New("movie already has an active job")

// JobRepository is the data access layer for jobs.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// JobFilter narrows List results. Zero values mean "any".
type JobFilter struct {
	State string
	Kind  string
	Limit int
}

const jobColumns = `id, kind, movie_id, movie_title, state, progress, error, metadata, created_at, started_at, completed_at`

// Create inserts a new job. Encode jobs start pending, upload jobs start
// uploading. The active-job unique index maps to ErrActiveJobExists.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.State == "" {
		if job.Kind == models.JobKindUpload {
			job.State = models.JobStateUploading
		} else {
			job.State = models.JobStatePending
		}
	}
	job.CreatedAt = time.Now()

	meta, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode job metadata: %w", err)
	}
	if job.Metadata == nil {
		meta = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, movie_id, movie_title, state, progress, error, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Kind, job.MovieID, job.MovieTitle, job.State, job.Progress, job.Error, string(meta), job.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "idx_jobs_active_movie") ||
			strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrActiveJobExists
		}
		return err
	}
	return nil
}

// GetByID fetches a job by ID. Returns (nil, nil) when not found.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*models.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs matching the filter, oldest first. This is the order the
// queue manager dispatches in.
func (r *JobRepository) List(ctx context.Context, f JobFilter) ([]models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	var conds []string
	var args []any
	if f.State != "" {
		conds = append(conds, "state = ?")
		args = append(args, f.State)
	}
	if f.Kind != "" {
		conds = append(conds, "kind = ?")
		args = append(args, f.Kind)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// ListActive returns all jobs in {pending, encoding}, oldest first.
func (r *JobRepository) ListActive(ctx context.Context) ([]models.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE state IN (?, ?) ORDER BY created_at ASC`,
		models.JobStatePending, models.JobStateEncoding)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Start promotes a pending job to encoding, resetting progress and stamping
// the start time. Returns false when the job was not pending (already
// claimed, cancelled, or gone).
func (r *JobRepository) Start(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, progress = 0, error = '', started_at = ?
		 WHERE id = ? AND state = ?`,
		models.JobStateEncoding, now, id, models.JobStatePending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateProgress persists a new percentage. Non-increasing values and writes
// against terminal jobs are silently dropped; late callbacks from a
// cancelled job must not resurrect it.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET progress = ?
		 WHERE id = ? AND progress < ? AND state NOT IN (?, ?)`,
		progress, id, progress, models.JobStateCompleted, models.JobStateFailed)
	return err
}

// Complete marks a job completed with full progress. No-op on terminal
// jobs; returns false when the row was already terminal (for instance
// cancelled while the encode was still running remotely).
func (r *JobRepository) Complete(ctx context.Context, id string) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, progress = 100, completed_at = ?
		 WHERE id = ? AND state NOT IN (?, ?)`,
		models.JobStateCompleted, now, id, models.JobStateCompleted, models.JobStateFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Fail marks a job failed with a reason. No-op on terminal jobs; returns
// false when the row was already terminal, so a late transport rejection for
// a cancelled job can be recognized and ignored.
func (r *JobRepository) Fail(ctx context.Context, id string, errorMsg string) (bool, error) {
	now := time.Now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET state = ?, error = ?, completed_at = ?
		 WHERE id = ? AND state NOT IN (?, ?)`,
		models.JobStateFailed, errorMsg, now, id, models.JobStateCompleted, models.JobStateFailed)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Delete removes a job.
func (r *JobRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	return err
}

// CleanupTerminal deletes completed and failed jobs older than the retention
// window. Returns the number of rows removed.
func (r *JobRepository) CleanupTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN (?, ?) AND completed_at < ?`,
		models.JobStateCompleted, models.JobStateFailed, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountByState returns job counts per state.
func (r *JobRepository) CountByState(ctx context.Context) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM jobs GROUP BY state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var meta string
	var startedAt, completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.Kind, &job.MovieID, &job.MovieTitle,
		&job.State, &job.Progress, &job.Error, &meta,
		&job.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &job.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode job metadata: %w", err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
