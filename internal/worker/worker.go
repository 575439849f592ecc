// Package worker runs fixed-size pools that drain the job queue while this
// instance holds worker leadership.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/cache"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Handler processes one job. A nil error acks the job; any other error is
// passed to the queue's retry policy.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *models.Job) error { return f(ctx, job) }

// Outcome is the terminal result of one processing attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeDead      Outcome = "dead"
)

// Event is emitted after every processed attempt.
type Event struct {
	JobID      uuid.UUID
	Type       models.JobType
	Outcome    Outcome
	Attempt    int
	Duration   time.Duration
	Err        error
	Job        *models.Job
	DeadLetter *models.DeadLetter
}

// Observer receives job events. Implementations must not block for long.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// Observers fans an event out to several observers in order.
func Observers(obs ...Observer) Observer {
	return ObserverFunc(func(ctx context.Context, ev Event) {
		for _, o := range obs {
			if o != nil {
				o.OnEvent(ctx, ev)
			}
		}
	})
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Type         models.JobType
	Concurrency  int
	PollInterval time.Duration
	// WorkerID is recorded as locked_by on claimed jobs.
	WorkerID string
}

// Pool runs Concurrency workers for one job type.
type Pool struct {
	cfg      PoolConfig
	q        queue.Queue
	handler  Handler
	notifier cache.Notifier
	observer Observer

	wg sync.WaitGroup
}

// NewPool creates a Pool. notifier and observer may be nil.
func NewPool(cfg PoolConfig, q queue.Queue, handler Handler, notifier cache.Notifier, observer Observer) *Pool {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Pool{cfg: cfg, q: q, handler: handler, notifier: notifier, observer: observer}
}

// Type returns the job type this pool drains.
func (p *Pool) Type() models.JobType { return p.cfg.Type }

// Run drains the queue until ctx is cancelled. It returns as soon as ctx is done;
// jobs still in flight at that point finish in the background but are neither
// acked nor failed, so they stay ACTIVE until the stale sweep requeues them.
func (p *Pool) Run(ctx context.Context) error {
	wake, unsubscribe := p.subscribe(ctx)
	defer unsubscribe()

	slog.Info("worker pool started", "job_type", p.cfg.Type, "concurrency", p.cfg.Concurrency,
		"worker_id", p.cfg.WorkerID)

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go func(slot int) {
			defer p.wg.Done()
			p.loop(ctx, slot, wake)
		}(i)
	}

	<-ctx.Done()
	slog.Info("worker pool stopped", "job_type", p.cfg.Type, "worker_id", p.cfg.WorkerID)
	return nil
}

// Wait blocks until every worker started by Run has exited, including those
// finishing an abandoned job.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) subscribe(ctx context.Context) (<-chan struct{}, func()) {
	if p.notifier == nil {
		return nil, func() {}
	}
	ch, unsubscribe, err := p.notifier.SubscribeWakeups(ctx, string(p.cfg.Type))
	if err != nil {
		slog.Warn("queue wakeup subscription failed, polling only", "job_type", p.cfg.Type, "error", err)
		return nil, func() {}
	}
	return ch, func() { _ = unsubscribe() }
}

func (p *Pool) loop(ctx context.Context, slot int, wake <-chan struct{}) {
	workerID := fmt.Sprintf("%s/%s-%d", p.cfg.WorkerID, p.cfg.Type, slot)
	for ctx.Err() == nil {
		job, err := p.q.Dequeue(ctx, p.cfg.Type, workerID)
		if err != nil {
			if !errors.Is(err, queue.ErrEmpty) && ctx.Err() == nil {
				slog.Error("dequeue failed", "job_type", p.cfg.Type, "error", err)
			}
			p.idle(ctx, wake)
			continue
		}
		p.process(ctx, workerID, job)
	}
}

func (p *Pool) idle(ctx context.Context, wake <-chan struct{}) {
	timer := time.NewTimer(p.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-wake:
	case <-timer.C:
	}
}

func (p *Pool) process(ctx context.Context, workerID string, job *models.Job) {
	start := time.Now()
	logger := slog.With("job_id", job.ID, "job_type", job.Type, "attempt", job.AttemptCount+1)

	err := p.invoke(context.WithoutCancel(ctx), job)
	if ctx.Err() != nil {
		logger.Warn("leadership lost during job, leaving it for the stale sweep")
		return
	}

	ev := Event{JobID: job.ID, Type: job.Type, Attempt: job.AttemptCount + 1, Duration: time.Since(start), Job: job}
	if err == nil {
		if ackErr := p.q.Ack(ctx, job.ID, workerID); ackErr != nil {
			if errors.Is(ackErr, queue.ErrLockLost) {
				logger.Warn("job reclaimed by another worker, dropping result")
				return
			}
			logger.Error("ack failed", "error", ackErr)
			return
		}
		ev.Outcome = OutcomeCompleted
		logger.Info("job completed", "duration_ms", ev.Duration.Milliseconds())
		p.emit(ctx, ev)
		return
	}

	res, failErr := p.q.Fail(ctx, job.ID, workerID, err)
	if failErr != nil {
		logger.Error("recording job failure failed", "error", failErr, "cause", err)
		return
	}
	ev.Err = err
	ev.Job = res.Job
	if res.Dead() {
		ev.Outcome = OutcomeDead
		ev.DeadLetter = res.DeadLetter
		logger.Error("job dead-lettered", "error", err, "kind", apperr.KindOf(err))
	} else {
		ev.Outcome = OutcomeRetried
		logger.Warn("job failed, retry scheduled", "error", err, "retry_at", res.RetryAt)
	}
	p.emit(ctx, ev)
}

// invoke runs the handler, converting a panic into a permanent failure.
func (p *Pool) invoke(ctx context.Context, job *models.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic in job handler", "job_id", job.ID, "panic", rec, "stack", string(debug.Stack()))
			err = apperr.Permanent(fmt.Errorf("panic: %v", rec))
		}
	}()
	return p.handler.Handle(ctx, job)
}

func (p *Pool) emit(ctx context.Context, ev Event) {
	if p.observer != nil {
		p.observer.OnEvent(ctx, ev)
	}
}
