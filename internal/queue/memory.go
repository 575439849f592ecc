package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

type memEntry struct {
	job models.Job
	seq int64
}

// MemoryQueue is an in-process Queue with the same ordering, retry and
// dead-letter semantics as PostgresQueue. Used in tests and local development.
type MemoryQueue struct {
	mu   sync.Mutex
	opts Options
	now  func() time.Time
	seq  int64
	jobs map[uuid.UUID]*memEntry
	dead map[uuid.UUID]*models.DeadLetter
}

// NewMemoryQueue creates a MemoryQueue using the wall clock.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return NewMemoryQueueWithClock(opts, time.Now)
}

// NewMemoryQueueWithClock creates a MemoryQueue driven by now.
func NewMemoryQueueWithClock(opts Options, now func() time.Time) *MemoryQueue {
	return &MemoryQueue{
		opts: opts.withDefaults(),
		now:  now,
		jobs: make(map[uuid.UUID]*memEntry),
		dead: make(map[uuid.UUID]*models.DeadLetter),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobType models.JobType, payload json.RawMessage, priority int) (*models.Job, error) {
	if err := validateEnqueue(jobType, payload, priority); err != nil {
		return nil, err
	}

	q.mu.Lock()
	job := q.insertLocked(jobType, payload, priority)
	q.mu.Unlock()

	q.wake(ctx, jobType)
	return job, nil
}

func (q *MemoryQueue) insertLocked(jobType models.JobType, payload json.RawMessage, priority int) *models.Job {
	q.seq++
	now := q.now().UTC()
	e := &memEntry{
		seq: q.seq,
		job: models.Job{
			ID:          uuid.New(),
			Type:        jobType,
			Payload:     append(json.RawMessage(nil), payload...),
			Priority:    priority,
			Status:      models.JobStatusPending,
			MaxAttempts: q.opts.MaxAttempts,
			RunAt:       now,
			CreatedAt:   now,
		},
	}
	q.jobs[e.job.ID] = e
	out := e.job
	return &out
}

func (q *MemoryQueue) wake(ctx context.Context, jobType models.JobType) {
	if q.opts.Notifier == nil {
		return
	}
	if err := q.opts.Notifier.PublishWakeup(ctx, string(jobType)); err != nil {
		slog.Warn("queue wakeup publish failed", "job_type", jobType, "error", err)
	}
}

func (q *MemoryQueue) Dequeue(_ context.Context, jobType models.JobType, workerID string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	var best *memEntry
	for _, e := range q.jobs {
		if e.job.Type != jobType || e.job.Status != models.JobStatusPending || e.job.RunAt.After(now) {
			continue
		}
		if best == nil || e.job.Priority > best.job.Priority ||
			(e.job.Priority == best.job.Priority && e.seq < best.seq) {
			best = e
		}
	}
	if best == nil {
		return nil, ErrEmpty
	}

	best.job.Status = models.JobStatusActive
	best.job.LockedBy = &workerID
	best.job.StartedAt = &now
	out := best.job
	return &out, nil
}

func (q *MemoryQueue) Ack(_ context.Context, jobID uuid.UUID, workerID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if err := Transition(e.job.Status, models.JobStatusCompleted); err != nil {
		return err
	}
	if !heldBy(&e.job, workerID) {
		return ErrLockLost
	}
	now := q.now().UTC()
	e.job.Status = models.JobStatusCompleted
	e.job.CompletedAt = &now
	e.job.LockedBy = nil
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, jobID uuid.UUID, workerID string, cause error) (*FailResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failLocked(jobID, workerID, cause)
}

func (q *MemoryQueue) failLocked(jobID uuid.UUID, workerID string, cause error) (*FailResult, error) {
	e, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if err := Transition(e.job.Status, models.JobStatusFailed); err != nil {
		return nil, err
	}
	if !heldBy(&e.job, workerID) {
		return nil, ErrLockLost
	}

	attempts := e.job.AttemptCount + 1
	msg := errorText(cause)
	next := nextStatus(attempts, e.job.MaxAttempts, cause)
	if err := Transition(models.JobStatusFailed, next); err != nil {
		return nil, err
	}

	now := q.now().UTC()
	e.job.AttemptCount = attempts
	e.job.LastError = &msg
	e.job.LockedBy = nil
	e.job.StartedAt = nil

	if next == models.JobStatusPending {
		e.job.Status = models.JobStatusPending
		e.job.RunAt = now.Add(q.opts.Backoff.Delay(attempts))
		out := e.job
		return &FailResult{Job: &out, Status: next, RetryAt: e.job.RunAt}, nil
	}

	dead := &models.DeadLetter{
		ID:           uuid.New(),
		JobID:        e.job.ID,
		Type:         e.job.Type,
		Payload:      e.job.Payload,
		Priority:     e.job.Priority,
		AttemptCount: attempts,
		MaxAttempts:  e.job.MaxAttempts,
		FinalError:   msg,
		FailedAt:     now,
	}
	q.dead[dead.ID] = dead
	delete(q.jobs, jobID)

	e.job.Status = models.JobStatusDead
	out := e.job
	dl := *dead
	return &FailResult{Job: &out, Status: next, DeadLetter: &dl}, nil
}

func (q *MemoryQueue) SweepStale(_ context.Context, olderThan time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.now().UTC().Add(-olderThan)
	var stale []*memEntry
	for _, e := range q.jobs {
		if e.job.Status == models.JobStatusActive && e.job.StartedAt != nil && e.job.StartedAt.Before(cutoff) {
			stale = append(stale, e)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].seq < stale[j].seq })

	for _, e := range stale {
		job := e.job
		if _, err := q.failLocked(job.ID, lockOwner(&job), abandonedError(&job)); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (q *MemoryQueue) Get(_ context.Context, jobID uuid.UUID) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := e.job
	return &out, nil
}

// Pending returns the number of PENDING and ACTIVE jobs of jobType.
func (q *MemoryQueue) Pending(jobType models.JobType) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.jobs {
		if e.job.Type == jobType && (e.job.Status == models.JobStatusPending || e.job.Status == models.JobStatusActive) {
			n++
		}
	}
	return n
}

func (q *MemoryQueue) ListDeadLetters(_ context.Context, jobType models.JobType, limit int) ([]*models.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.DeadLetter
	for _, d := range q.dead {
		if jobType != "" && d.Type != jobType {
			continue
		}
		dl := *d
		out = append(out, &dl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.After(out[j].FailedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *MemoryQueue) GetDeadLetter(_ context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	d, ok := q.dead[id]
	if !ok {
		return nil, ErrNotFound
	}
	dl := *d
	return &dl, nil
}

func (q *MemoryQueue) RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	q.mu.Lock()
	d, ok := q.dead[id]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	delete(q.dead, id)
	job := q.insertLocked(d.Type, d.Payload, d.Priority)
	q.mu.Unlock()

	q.wake(ctx, d.Type)
	return job, nil
}

var _ Queue = (*MemoryQueue)(nil)
var _ Queue = (*PostgresQueue)(nil)
