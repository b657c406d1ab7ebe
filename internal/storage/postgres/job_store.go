package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/newsloom/scraper/internal/engine"
)

// ErrNotFound is returned when a job does not exist.
var ErrNotFound = errors.New("job not found")

// JobStore implements engine.JobStore on Postgres.
type JobStore struct {
	pool pgxPool
}

// NewJobStore constructs a JobStore on an existing pool.
func NewJobStore(pool pgxPool) *JobStore {
	return &JobStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a new job row.
func (s *JobStore) CreateJob(ctx context.Context, job engine.Job) error {
	sourceIDs, err := json.Marshal(job.SourceIDs)
	if err != nil {
		return fmt.Errorf("marshal source ids: %w", err)
	}
	query := `
		INSERT INTO jobs (id, source_ids, articles_per_source, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.pool.Exec(ctx, query, job.ID, sourceIDs, job.ArticlesPerSource, string(job.Status), job.Created); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets the status and counters for a job. Terminal statuses
// stamp completed_at.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status engine.JobStatus, counters engine.JobCounters) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    articles_extracted = $2,
		    articles_persisted = $3,
		    errors = $4,
		    completed_at = CASE WHEN $5 THEN NOW() ELSE completed_at END
		WHERE id = $6`
	tag, err := s.pool.Exec(ctx, query,
		string(status),
		counters.ArticlesExtracted,
		counters.ArticlesPersisted,
		counters.Errors,
		status.IsTerminal(),
		jobID,
	)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordSourceOutcome stores the per-source summary for a completed job.
func (s *JobStore) RecordSourceOutcome(ctx context.Context, jobID string, outcome engine.SourceOutcome) error {
	query := `
		INSERT INTO job_sources (
			job_id, source_id, source_name, extracted, errors, fatal_error,
			saved_count, duplicates_skipped, capped_count, failed_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (job_id, source_id) DO UPDATE
		SET extracted = EXCLUDED.extracted,
		    errors = EXCLUDED.errors,
		    fatal_error = EXCLUDED.fatal_error,
		    saved_count = EXCLUDED.saved_count,
		    duplicates_skipped = EXCLUDED.duplicates_skipped,
		    capped_count = EXCLUDED.capped_count,
		    failed_count = EXCLUDED.failed_count`
	_, err := s.pool.Exec(ctx, query,
		jobID,
		outcome.SourceID,
		outcome.SourceName,
		outcome.Extracted,
		outcome.Errors,
		outcome.FatalError,
		outcome.Persistence.SavedCount,
		outcome.Persistence.DuplicatesSkipped,
		outcome.Persistence.CappedCount,
		outcome.Persistence.FailedCount,
	)
	if err != nil {
		return fmt.Errorf("record source outcome: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (engine.Job, error) {
	query := `
		SELECT id, source_ids, articles_per_source, status, created_at, completed_at,
		       articles_extracted, articles_persisted, errors
		FROM jobs
		WHERE id = $1`
	var (
		job          engine.Job
		sourceIDsRaw []byte
		status       string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID,
		&sourceIDsRaw,
		&job.ArticlesPerSource,
		&status,
		&job.Created,
		&job.Completed,
		&job.Counters.ArticlesExtracted,
		&job.Counters.ArticlesPersisted,
		&job.Counters.Errors,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return engine.Job{}, ErrNotFound
		}
		return engine.Job{}, fmt.Errorf("get job: %w", err)
	}
	job.Status = engine.JobStatus(status)
	if len(sourceIDsRaw) > 0 {
		if err := json.Unmarshal(sourceIDsRaw, &job.SourceIDs); err != nil {
			return engine.Job{}, fmt.Errorf("unmarshal source ids: %w", err)
		}
	}
	return job, nil
}

// ListSourceOutcomes returns the recorded per-source summaries for a job.
func (s *JobStore) ListSourceOutcomes(ctx context.Context, jobID string) ([]engine.SourceOutcome, error) {
	query := `
		SELECT source_id, source_name, extracted, errors, fatal_error,
		       saved_count, duplicates_skipped, capped_count, failed_count
		FROM job_sources
		WHERE job_id = $1
		ORDER BY source_id`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("list source outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []engine.SourceOutcome
	for rows.Next() {
		var o engine.SourceOutcome
		err := rows.Scan(
			&o.SourceID,
			&o.SourceName,
			&o.Extracted,
			&o.Errors,
			&o.FatalError,
			&o.Persistence.SavedCount,
			&o.Persistence.DuplicatesSkipped,
			&o.Persistence.CappedCount,
			&o.Persistence.FailedCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan source outcome: %w", err)
		}
		o.Persistence.SourceID = o.SourceID
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}
