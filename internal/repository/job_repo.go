package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmylchreest/pawtalk-api/internal/models"
)

// SQLiteJobRepository implements JobRepository for SQLite/libsql.
type SQLiteJobRepository struct {
	db *sql.DB
}

// NewSQLiteJobRepository creates a new SQLite job repository.
func NewSQLiteJobRepository(db *sql.DB) *SQLiteJobRepository {
	return &SQLiteJobRepository{db: db}
}

const jobColumns = `id, operation_handle, status, prompt, source_image_ref, result_url, error_message,
	owner_identity, aspect_ratio, duration_seconds, admission_mode, watermarked,
	created_at, updated_at, completed_at`

func (r *SQLiteJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	query := `INSERT INTO generation_jobs (` + jobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query,
		job.ID,
		nullString(job.OperationHandle),
		job.Status,
		job.Prompt,
		nullString(job.SourceImageRef),
		nullString(job.ResultURL),
		nullString(job.ErrorMessage),
		nullString(job.OwnerIdentity),
		nullString(job.AspectRatio),
		job.DurationSeconds,
		nullString(job.AdmissionMode),
		boolToInt(job.Watermarked),
		formatTime(job.CreatedAt),
		formatTime(job.UpdatedAt),
		nullTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create generation job: %w", err)
	}
	return nil
}

func (r *SQLiteJobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs WHERE id = ?`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	return job, nil
}

func (r *SQLiteJobRepository) Update(ctx context.Context, id string, upd models.JobUpdate) (*models.GenerationJob, error) {
	now := formatTime(time.Now())
	sets := []string{"updated_at = ?"}
	args := []any{now}

	if upd.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *upd.Status)
		if upd.Status.IsTerminal() {
			sets = append(sets, "completed_at = ?")
			args = append(args, now)
		}
	}
	if upd.ResultURL != nil {
		sets = append(sets, "result_url = ?")
		args = append(args, nullString(*upd.ResultURL))
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, nullString(*upd.ErrorMessage))
	}
	if upd.Watermarked != nil {
		sets = append(sets, "watermarked = ?")
		args = append(args, boolToInt(*upd.Watermarked))
	}

	// The status guard makes completed/failed absorbing even under racing writers.
	query := `UPDATE generation_jobs SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`
	args = append(args, id, models.JobStatusProcessing)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to update generation job: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *SQLiteJobRepository) ListByOwner(ctx context.Context, owner string, limit, offset int) ([]*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE owner_identity = ? ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	return r.queryJobs(ctx, query, owner, limit, offset)
}

func (r *SQLiteJobRepository) ListProcessing(ctx context.Context, limit int) ([]*models.GenerationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM generation_jobs
		WHERE status = ? AND operation_handle IS NOT NULL
		ORDER BY created_at ASC, id ASC LIMIT ?`
	return r.queryJobs(ctx, query, models.JobStatusProcessing, limit)
}

// MarkStaleProcessingFailed fails jobs left processing past maxAge, e.g. when the
// provider silently dropped the operation.
func (r *SQLiteJobRepository) MarkStaleProcessingFailed(ctx context.Context, maxAge time.Duration, message string) (int64, error) {
	cutoff := formatTime(time.Now().Add(-maxAge))
	now := formatTime(time.Now())

	result, err := r.db.ExecContext(ctx, `
		UPDATE generation_jobs
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?
		WHERE status = ? AND created_at < ?
	`, models.JobStatusFailed, message, now, now, models.JobStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale jobs as failed: %w", err)
	}

	count, _ := result.RowsAffected()
	return count, nil
}

func (r *SQLiteJobRepository) queryJobs(ctx context.Context, query string, args ...any) ([]*models.GenerationJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan generation job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*models.GenerationJob, error) {
	var job models.GenerationJob
	var handle, sourceImage, resultURL, errorMessage, owner, aspect, mode sql.NullString
	var duration sql.NullInt64
	var watermarked int
	var createdAt, updatedAt string
	var completedAt sql.NullString

	if err := s.Scan(
		&job.ID, &handle, &job.Status, &job.Prompt, &sourceImage, &resultURL, &errorMessage,
		&owner, &aspect, &duration, &mode, &watermarked,
		&createdAt, &updatedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	job.OperationHandle = handle.String
	job.SourceImageRef = sourceImage.String
	job.ResultURL = resultURL.String
	job.ErrorMessage = errorMessage.String
	job.OwnerIdentity = owner.String
	job.AspectRatio = aspect.String
	job.DurationSeconds = int(duration.Int64)
	job.AdmissionMode = mode.String
	job.Watermarked = watermarked != 0
	job.CreatedAt = parseTime(createdAt)
	job.UpdatedAt = parseTime(updatedAt)
	job.CompletedAt = parseNullTime(completedAt)

	return &job, nil
}
