package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"faultgen/internal/domain"
)

// JobRepositoryPG implements domain.JobTracker on PostgreSQL.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new job record in its pending state.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (id, brand, model, generation_id, content_type, language, requested_count, status, stage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Spec.Brand,
		job.Spec.Model,
		job.Spec.GenerationID,
		job.Spec.ContentType,
		job.Spec.Language,
		job.Spec.Count,
		job.Status,
		job.Stage,
	)
	return err
}

// UpdateStatus updates job status and optionally the error message.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message)
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, status, errMsg)
	return err
}

// UpdateBatchState records the stage and external batch/file ids a job is
// currently bound to.
func (r *JobRepositoryPG) UpdateBatchState(ctx context.Context, jobID string, stage domain.JobStage, batchID, inputFileID, outputFileID string) error {
	query := `
UPDATE generation_jobs
SET stage = $2,
    batch_id = $3,
    input_file_id = $4,
    output_file_id = COALESCE(NULLIF($5, ''), output_file_id),
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, stage, batchID, inputFileID, outputFileID)
	return err
}

// UpdateProgress stores the cumulative number of records produced so far.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, jobID string, progressTotal int) error {
	query := `
UPDATE generation_jobs
SET progress_total = $2,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, progressTotal)
	return err
}

const jobColumns = `id, brand, model, generation_id, content_type, language, requested_count, status, stage, batch_id, input_file_id, output_file_id, progress_total, error_message, created_at, updated_at`

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// ListByStatus returns up to limit jobs in the given status, oldest first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
SELECT ` + jobColumns + `
FROM generation_jobs
WHERE status = $1
ORDER BY created_at ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.GenerationJob, error) {
	var job domain.GenerationJob
	if err := row.Scan(
		&job.ID,
		&job.Spec.Brand,
		&job.Spec.Model,
		&job.Spec.GenerationID,
		&job.Spec.ContentType,
		&job.Spec.Language,
		&job.Spec.Count,
		&job.Status,
		&job.Stage,
		&job.BatchID,
		&job.InputFileID,
		&job.OutputFileID,
		&job.ProgressTotal,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &job, nil
}

var _ domain.JobTracker = (*JobRepositoryPG)(nil)
