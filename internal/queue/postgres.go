package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const jobColumns = `id, type, payload, priority, status, attempt_count, max_attempts, last_error, locked_by,
	run_at, created_at, started_at, completed_at`

const deadLetterColumns = `id, job_id, type, payload, priority, attempt_count, max_attempts, final_error, failed_at`

// PostgresQueue implements Queue on the jobs and dead_letter_jobs tables.
// Dequeue uses FOR UPDATE SKIP LOCKED so concurrent workers never claim the same row.
type PostgresQueue struct {
	pool *pgxpool.Pool
	opts Options
}

// NewPostgresQueue creates a new PostgresQueue.
func NewPostgresQueue(pool *pgxpool.Pool, opts Options) *PostgresQueue {
	return &PostgresQueue{pool: pool, opts: opts.withDefaults()}
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j       models.Job
		jobType string
		status  string
		payload []byte
	)
	err := row.Scan(&j.ID, &jobType, &payload, &j.Priority, &status, &j.AttemptCount, &j.MaxAttempts,
		&j.LastError, &j.LockedBy, &j.RunAt, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.Payload = payload
	return &j, nil
}

func scanDeadLetter(row pgx.Row) (*models.DeadLetter, error) {
	var (
		d       models.DeadLetter
		jobType string
		payload []byte
	)
	err := row.Scan(&d.ID, &d.JobID, &jobType, &payload, &d.Priority, &d.AttemptCount, &d.MaxAttempts,
		&d.FinalError, &d.FailedAt)
	if err != nil {
		return nil, err
	}
	d.Type = models.JobType(jobType)
	d.Payload = payload
	return &d, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, jobType models.JobType, payload json.RawMessage, priority int) (*models.Job, error) {
	if err := validateEnqueue(jobType, payload, priority); err != nil {
		return nil, err
	}

	job, err := scanJob(q.pool.QueryRow(ctx,
		`INSERT INTO jobs (id, type, payload, priority, status, attempt_count, max_attempts, run_at, created_at)
		 VALUES ($1, $2, $3, $4, 'PENDING', 0, $5, NOW(), NOW())
		 RETURNING `+jobColumns,
		uuid.New(), string(jobType), []byte(payload), priority, q.opts.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	q.wake(ctx, jobType)
	return job, nil
}

func (q *PostgresQueue) wake(ctx context.Context, jobType models.JobType) {
	if q.opts.Notifier == nil {
		return
	}
	if err := q.opts.Notifier.PublishWakeup(ctx, string(jobType)); err != nil {
		slog.Warn("queue wakeup publish failed", "job_type", jobType, "error", err)
	}
}

func (q *PostgresQueue) Dequeue(ctx context.Context, jobType models.JobType, workerID string) (*models.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx,
		`UPDATE jobs SET status = 'ACTIVE', locked_by = $2, started_at = NOW()
		 WHERE id = (
		   SELECT id FROM jobs
		   WHERE type = $1 AND status = 'PENDING' AND run_at <= NOW()
		   ORDER BY priority DESC, seq ASC
		   FOR UPDATE SKIP LOCKED
		   LIMIT 1
		 )
		 RETURNING `+jobColumns, string(jobType), workerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue job: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) Ack(ctx context.Context, jobID uuid.UUID, workerID string) error {
	tag, err := q.pool.Exec(ctx,
		`UPDATE jobs SET status = 'COMPLETED', completed_at = NOW(), locked_by = NULL
		 WHERE id = $1 AND status = 'ACTIVE' AND locked_by = $2`, jobID, workerID)
	if err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if err := Transition(job.Status, models.JobStatusCompleted); err != nil {
		return err
	}
	return ErrLockLost
}

func (q *PostgresQueue) Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause error) (*FailResult, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("fail job: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := q.failTx(ctx, tx, jobID, workerID, cause)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("fail job: commit: %w", err)
	}
	return result, nil
}

func (q *PostgresQueue) failTx(ctx context.Context, tx pgx.Tx, jobID uuid.UUID, workerID string, cause error) (*FailResult, error) {
	job, err := scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if err := Transition(job.Status, models.JobStatusFailed); err != nil {
		return nil, err
	}
	if !heldBy(job, workerID) {
		return nil, ErrLockLost
	}

	attempts := job.AttemptCount + 1
	msg := errorText(cause)
	next := nextStatus(attempts, job.MaxAttempts, cause)
	if err := Transition(models.JobStatusFailed, next); err != nil {
		return nil, err
	}

	if next == models.JobStatusPending {
		retryAt := time.Now().UTC().Add(q.opts.Backoff.Delay(attempts))
		updated, err := scanJob(tx.QueryRow(ctx,
			`UPDATE jobs SET status = 'PENDING', attempt_count = $2, last_error = $3, locked_by = NULL,
			   started_at = NULL, run_at = $4
			 WHERE id = $1 AND locked_by = $5
			 RETURNING `+jobColumns, jobID, attempts, msg, retryAt, workerID))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockLost
		}
		if err != nil {
			return nil, fmt.Errorf("schedule retry: %w", err)
		}
		return &FailResult{Job: updated, Status: next, RetryAt: retryAt}, nil
	}

	dead, err := scanDeadLetter(tx.QueryRow(ctx,
		`INSERT INTO dead_letter_jobs (id, job_id, type, payload, priority, attempt_count, max_attempts, final_error, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING `+deadLetterColumns,
		uuid.New(), job.ID, string(job.Type), []byte(job.Payload), job.Priority, attempts, job.MaxAttempts, msg))
	if err != nil {
		return nil, fmt.Errorf("insert dead letter: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1 AND locked_by = $2`, jobID, workerID)
	if err != nil {
		return nil, fmt.Errorf("remove dead job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLockLost
	}

	job.AttemptCount = attempts
	job.LastError = &msg
	job.Status = models.JobStatusDead
	return &FailResult{Job: job, Status: next, DeadLetter: dead}, nil
}

func (q *PostgresQueue) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = 'ACTIVE' AND started_at < NOW() - make_interval(secs => $1)
		 ORDER BY started_at`, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}
	var stale []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan stale job: %w", err)
		}
		stale = append(stale, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("find stale jobs: %w", err)
	}

	swept := 0
	for _, job := range stale {
		if _, err := q.Fail(ctx, job.ID, lockOwner(job), abandonedError(job)); err != nil {
			// Acked, swept or reclaimed by the time we got to it.
			if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrLockLost) {
				continue
			}
			return swept, err
		}
		swept++
	}
	return swept, nil
}

func (q *PostgresQueue) Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := scanJob(q.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (q *PostgresQueue) ListDeadLetters(ctx context.Context, jobType models.JobType, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := q.pool.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_jobs
		 WHERE ($1 = '' OR type = $1)
		 ORDER BY failed_at DESC
		 LIMIT $2`, string(jobType), limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*models.DeadLetter
	for rows.Next() {
		d, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (q *PostgresQueue) GetDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	d, err := scanDeadLetter(q.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM dead_letter_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return d, nil
}

func (q *PostgresQueue) RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	tx, err := q.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("retry dead letter: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	d, err := scanDeadLetter(tx.QueryRow(ctx,
		`DELETE FROM dead_letter_jobs WHERE id = $1 RETURNING `+deadLetterColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("remove dead letter: %w", err)
	}

	job, err := scanJob(tx.QueryRow(ctx,
		`INSERT INTO jobs (id, type, payload, priority, status, attempt_count, max_attempts, run_at, created_at)
		 VALUES ($1, $2, $3, $4, 'PENDING', 0, $5, NOW(), NOW())
		 RETURNING `+jobColumns,
		uuid.New(), string(d.Type), []byte(d.Payload), d.Priority, q.opts.MaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("requeue dead letter: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("retry dead letter: commit: %w", err)
	}

	q.wake(ctx, d.Type)
	return job, nil
}
