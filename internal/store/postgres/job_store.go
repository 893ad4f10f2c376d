package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/storechat/content-pipeline/internal/pipeline"
)

// JobStore persists jobs in the jobs table.
type JobStore struct {
	pool querier
}

// NewJobStore constructs a JobStore over an existing pool.
func NewJobStore(pool querier) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &JobStore{pool: pool}, nil
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	options, progress, jobMetrics, errorsJSON, err := marshalJobColumns(job)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO jobs (id, root_url, status, options, progress, job_metrics, errors, created_at, started_at, done_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	if _, err := s.pool.Exec(ctx, query,
		job.ID, job.RootURL, string(job.Status),
		options, progress, jobMetrics, errorsJSON,
		job.CreatedAt, job.StartedAt, job.DoneAt,
	); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJob overwrites the mutable columns of a job row.
func (s *JobStore) UpdateJob(ctx context.Context, job pipeline.Job) error {
	options, progress, jobMetrics, errorsJSON, err := marshalJobColumns(job)
	if err != nil {
		return err
	}
	const query = `
UPDATE jobs
SET status = $2, options = $3, progress = $4, job_metrics = $5, errors = $6, started_at = $7, done_at = $8
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		job.ID, string(job.Status),
		options, progress, jobMetrics, errorsJSON,
		job.StartedAt, job.DoneAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pipeline.ErrNotFound
	}
	return nil
}

// GetJob fetches a job row by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (pipeline.Job, error) {
	const query = `
SELECT id, root_url, status, options, progress, job_metrics, errors, created_at, started_at, done_at
FROM jobs WHERE id = $1`
	var (
		job        pipeline.Job
		status     string
		options    []byte
		progress   []byte
		jobMetrics []byte
		errorsJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.RootURL, &status,
		&options, &progress, &jobMetrics, &errorsJSON,
		&job.CreatedAt, &job.StartedAt, &job.DoneAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = pipeline.JobStatus(status)
	if err := json.Unmarshal(options, &job.Options); err != nil {
		return pipeline.Job{}, fmt.Errorf("decode job options: %w", err)
	}
	if err := json.Unmarshal(progress, &job.Progress); err != nil {
		return pipeline.Job{}, fmt.Errorf("decode job progress: %w", err)
	}
	if err := json.Unmarshal(jobMetrics, &job.Metrics); err != nil {
		return pipeline.Job{}, fmt.Errorf("decode job metrics: %w", err)
	}
	if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
		return pipeline.Job{}, fmt.Errorf("decode job errors: %w", err)
	}
	return job, nil
}

func marshalJobColumns(job pipeline.Job) (options, progress, jobMetrics, errorsJSON []byte, err error) {
	if options, err = json.Marshal(job.Options); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal job options: %w", err)
	}
	if progress, err = json.Marshal(job.Progress); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal job progress: %w", err)
	}
	if jobMetrics, err = json.Marshal(job.Metrics); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal job metrics: %w", err)
	}
	jobErrors := job.Errors
	if jobErrors == nil {
		jobErrors = []pipeline.JobError{}
	}
	if errorsJSON, err = json.Marshal(jobErrors); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("marshal job errors: %w", err)
	}
	return options, progress, jobMetrics, errorsJSON, nil
}
