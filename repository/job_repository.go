package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"coffers/database"
	"coffers/domain/entities"

	"github.com/jackc/pgx/v5"
)

// JobRepository implements the JobRepository interface on a jobs table.
// Claims use FOR UPDATE SKIP LOCKED so several workers can share the queue.
type JobRepository struct {
	q Queryable
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *database.DB) *JobRepository {
	return &JobRepository{q: db.Pool}
}

// newJobRepository creates a new job repository with a transaction
func newJobRepository(tx Queryable) *JobRepository {
	return &JobRepository{q: tx}
}

// Enqueue persists a job to run at runAt
func (r *JobRepository) Enqueue(ctx context.Context, jobType entities.JobType, payload any, runAt time.Time) (*entities.Job, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job payload: %w", err)
	}

	query := `
		INSERT INTO jobs (job_type, payload, run_at)
		VALUES ($1, $2, $3)
		RETURNING id, attempts, created_at
	`

	job := &entities.Job{
		Type:    jobType,
		Payload: payloadJSON,
		RunAt:   runAt,
	}
	err = r.q.QueryRow(ctx, query, jobType, payloadJSON, runAt).Scan(&job.ID, &job.Attempts, &job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return job, nil
}

// ClaimDue leases up to limit due jobs, earliest first. A job whose lease has
// expired is due again.
func (r *JobRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*entities.Job, error) {
	query := `
		UPDATE jobs SET locked_until = $2
		WHERE id IN (
			SELECT id FROM jobs
			WHERE run_at <= $1
			  AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY run_at, id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_type, payload, run_at, attempts, locked_until, last_error, created_at
	`

	rows, err := r.q.Query(ctx, query, now, now.Add(lease), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due jobs: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[entities.Job])
	if err != nil {
		return nil, fmt.Errorf("failed to scan claimed jobs: %w", err)
	}

	// RETURNING does not preserve the subquery order
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].RunAt.Equal(jobs[j].RunAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].RunAt.Before(jobs[j].RunAt)
	})
	return jobs, nil
}

// Complete removes a finished job
func (r *JobRepository) Complete(ctx context.Context, id int64) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to complete job %d: %w", id, err)
	}
	return nil
}

// Retry releases the lease and schedules another attempt
func (r *JobRepository) Retry(ctx context.Context, id int64, runAt time.Time, lastError string) error {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1, run_at = $2, locked_until = NULL, last_error = $3
		WHERE id = $1
	`
	if _, err := r.q.Exec(ctx, query, id, runAt, lastError); err != nil {
		return fmt.Errorf("failed to reschedule job %d: %w", id, err)
	}
	return nil
}

// NextRunAt returns the earliest time any job becomes claimable
func (r *JobRepository) NextRunAt(ctx context.Context) (*time.Time, error) {
	// GREATEST ignores a NULL lease
	var next *time.Time
	err := r.q.QueryRow(ctx, `SELECT MIN(GREATEST(run_at, locked_until)) FROM jobs`).Scan(&next)
	if err != nil {
		return nil, fmt.Errorf("failed to get next job time: %w", err)
	}
	return next, nil
}

// parkedJobs locks every job scheduled beyond horizon
func (r *JobRepository) parkedJobs(ctx context.Context, horizon time.Time) ([]*entities.Job, error) {
	query := `
		SELECT id, job_type, payload, run_at, attempts, locked_until, last_error, created_at
		FROM jobs
		WHERE run_at > $1
		ORDER BY id
		FOR UPDATE
	`
	rows, err := r.q.Query(ctx, query, horizon)
	if err != nil {
		return nil, fmt.Errorf("failed to list parked jobs: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[entities.Job])
	if err != nil {
		return nil, fmt.Errorf("failed to scan parked jobs: %w", err)
	}
	return jobs, nil
}

// requeue makes a job due at runAt with a fresh attempt count
func (r *JobRepository) requeue(ctx context.Context, id int64, runAt time.Time) error {
	query := `UPDATE jobs SET run_at = $2, attempts = 0, locked_until = NULL WHERE id = $1`
	if _, err := r.q.Exec(ctx, query, id, runAt); err != nil {
		return fmt.Errorf("failed to requeue job %d: %w", id, err)
	}
	return nil
}

// RequeueParkedJobs makes every job parked beyond horizon due at now, in one
// transaction, and returns the jobs as they were before requeueing
func RequeueParkedJobs(ctx context.Context, db *database.DB, now, horizon time.Time) ([]*entities.Job, error) {
	var parked []*entities.Job
	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
		repo := newJobRepository(tx)

		var err error
		parked, err = repo.parkedJobs(ctx, horizon)
		if err != nil {
			return err
		}
		for _, job := range parked {
			if err := repo.requeue(ctx, job.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return parked, nil
}
