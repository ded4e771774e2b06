package scheduler

import (
	"context"
	"fmt"
	"time"

	"horse.fit/trendwatch/internal/db"
)

// maxErrorMessageLen bounds what lands in job_executions.error_message.
const maxErrorMessageLen = 4000

// Job is one schedulable unit of work.
type Job struct {
	Name      string
	Cadence   string
	Target    string
	Enabled   bool
	LastRunAt *time.Time
	NextRunAt *time.Time
}

// Store persists scheduler state. The postgres implementation is the real
// one; tests run against an in-memory store.
type Store interface {
	// DueJobs returns the enabled jobs whose next run is at or before now.
	// Jobs that have never run are always due.
	DueJobs(ctx context.Context, now time.Time) ([]Job, error)

	// StartExecution opens a running execution row for the job. Returns
	// started=false without error when the job already has a running
	// execution.
	StartExecution(ctx context.Context, jobName string, now time.Time) (executionID int64, started bool, err error)

	// FinishExecution finalizes a running execution. errCode and errMsg are
	// empty for a succeeded run.
	FinishExecution(ctx context.Context, executionID int64, status, errCode, errMsg string, now time.Time) error

	// AdvanceSchedule stamps the job's last run and its computed next run.
	AdvanceSchedule(ctx context.Context, jobName string, lastRun, nextRun time.Time) error

	// SeedJobs inserts missing job definitions, leaving existing rows alone.
	SeedJobs(ctx context.Context, jobs []Job) error

	// ListJobs returns every job definition, enabled or not.
	ListJobs(ctx context.Context) ([]Job, error)
}

type pgStore struct {
	pool *db.Pool
}

// NewStore returns the postgres-backed scheduler store.
func NewStore(pool *db.Pool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) DueJobs(ctx context.Context, now time.Time) ([]Job, error) {
	const q = `
SELECT job_name, cadence, target, enabled, last_run_at, next_run_at
FROM trend.scheduled_jobs
WHERE enabled
  AND (next_run_at IS NULL OR next_run_at <= $1)
ORDER BY job_name
`
	return s.queryJobs(ctx, q, now)
}

func (s *pgStore) ListJobs(ctx context.Context) ([]Job, error) {
	const q = `
SELECT job_name, cadence, target, enabled, last_run_at, next_run_at
FROM trend.scheduled_jobs
ORDER BY job_name
`
	return s.queryJobs(ctx, q)
}

func (s *pgStore) queryJobs(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.Name, &j.Cadence, &j.Target, &j.Enabled, &j.LastRunAt, &j.NextRunAt); err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scheduled jobs: %w", err)
	}
	return jobs, nil
}

func (s *pgStore) StartExecution(ctx context.Context, jobName string, now time.Time) (int64, bool, error) {
	// The NOT EXISTS guard plus the partial unique index on running rows
	// keeps concurrent ticks from double-starting a job.
	const q = `
INSERT INTO trend.job_executions (job_name, started_at, status)
SELECT $1, $2, 'running'
WHERE NOT EXISTS (
	SELECT 1 FROM trend.job_executions
	WHERE job_name = $1 AND status = 'running'
)
RETURNING execution_id
`
	var executionID int64
	if err := s.pool.QueryRow(ctx, q, jobName, now).Scan(&executionID); err != nil {
		if db.IsNoRows(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("start execution for job %q: %w", jobName, err)
	}
	return executionID, true, nil
}

func (s *pgStore) FinishExecution(ctx context.Context, executionID int64, status, errCode, errMsg string, now time.Time) error {
	if len(errMsg) > maxErrorMessageLen {
		errMsg = errMsg[:maxErrorMessageLen]
	}
	const q = `
UPDATE trend.job_executions
SET
	status = $2,
	completed_at = $3,
	error_code = NULLIF($4, ''),
	error_message = NULLIF($5, '')
WHERE execution_id = $1
  AND status = 'running'
`
	tag, err := s.pool.Exec(ctx, q, executionID, status, now, errCode, errMsg)
	if err != nil {
		return fmt.Errorf("finish execution %d: %w", executionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish execution %d: no running row", executionID)
	}
	return nil
}

func (s *pgStore) AdvanceSchedule(ctx context.Context, jobName string, lastRun, nextRun time.Time) error {
	const q = `
UPDATE trend.scheduled_jobs
SET last_run_at = $2, next_run_at = $3, updated_at = $2
WHERE job_name = $1
`
	if _, err := s.pool.Exec(ctx, q, jobName, lastRun, nextRun); err != nil {
		return fmt.Errorf("advance schedule for job %q: %w", jobName, err)
	}
	return nil
}

func (s *pgStore) SeedJobs(ctx context.Context, jobs []Job) error {
	const q = `
INSERT INTO trend.scheduled_jobs (job_name, cadence, target, enabled)
VALUES ($1, $2, $3, $4)
ON CONFLICT (job_name) DO NOTHING
`
	for _, j := range jobs {
		if _, err := s.pool.Exec(ctx, q, j.Name, j.Cadence, j.Target, j.Enabled); err != nil {
			return fmt.Errorf("seed job %q: %w", j.Name, err)
		}
	}
	return nil
}
