// Package queue is the durable, per-type priority job queue backing the worker pools.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/cache"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// ErrEmpty is returned by Dequeue when no job of the type is ready.
var ErrEmpty = errors.New("queue empty")

// ErrNotFound is returned when a job or dead letter does not exist.
var ErrNotFound = errors.New("job not found")

// ErrLockLost is returned by Ack and Fail when the job is no longer locked by
// the calling worker, typically because it was swept and claimed again.
var ErrLockLost = errors.New("job locked by another worker")

// Queue is the job queue interface. Implementations must be safe for concurrent use.
type Queue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload json.RawMessage, priority int) (*models.Job, error)
	// Dequeue claims the highest-priority ready job of jobType for workerID.
	Dequeue(ctx context.Context, jobType models.JobType, workerID string) (*models.Job, error)
	// Ack completes a job that workerID still holds.
	Ack(ctx context.Context, jobID uuid.UUID, workerID string) error
	// Fail records a failed attempt by workerID and either schedules a retry or dead-letters the job.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, cause error) (*FailResult, error)
	// SweepStale fails ACTIVE jobs that started more than olderThan ago.
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)

	ListDeadLetters(ctx context.Context, jobType models.JobType, limit int) ([]*models.DeadLetter, error)
	GetDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error)
	// RetryDeadLetter re-enqueues the dead letter as a fresh job and removes it.
	RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// FailResult describes what Fail did with the job.
type FailResult struct {
	Job        *models.Job
	Status     models.JobStatus
	RetryAt    time.Time
	DeadLetter *models.DeadLetter
}

// Dead reports whether the job was moved to the dead-letter set.
func (r *FailResult) Dead() bool {
	return r.Status == models.JobStatusDead
}

// Options configures retry policy shared by all Queue implementations.
type Options struct {
	MaxAttempts int
	Backoff     Backoff
	// Notifier, when set, receives a wakeup for every enqueue.
	Notifier cache.Notifier
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 5
	}
	if o.Backoff.Base <= 0 {
		o.Backoff.Base = 5 * time.Second
	}
	if o.Backoff.Max <= 0 {
		o.Backoff.Max = 10 * time.Minute
	}
	return o
}

// Backoff is an exponential retry delay: Base * 2^(attempt-1), capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// nextStatus applies the retry policy to a job that just failed with cause.
// attempts is the attempt count including the failed one.
func nextStatus(attempts, maxAttempts int, cause error) models.JobStatus {
	if apperr.Retryable(cause) && attempts < maxAttempts {
		return models.JobStatusPending
	}
	return models.JobStatusDead
}

func errorText(cause error) string {
	if cause == nil {
		return "unknown error"
	}
	return cause.Error()
}

func validateEnqueue(jobType models.JobType, payload json.RawMessage, priority int) error {
	if priority < 0 {
		return apperr.Validation("priority must be non-negative, got %d", priority)
	}
	if err := ValidatePayload(jobType, payload); err != nil {
		return err
	}
	return nil
}

func abandonedError(job *models.Job) error {
	holder := "unknown worker"
	if job.LockedBy != nil {
		holder = *job.LockedBy
	}
	return fmt.Errorf("abandoned by %s", holder)
}

func heldBy(job *models.Job, workerID string) bool {
	return job.LockedBy != nil && *job.LockedBy == workerID
}

func lockOwner(job *models.Job) string {
	if job.LockedBy == nil {
		return ""
	}
	return *job.LockedBy
}
