// Package leader elects one worker leader across the fleet using a renewable
// lease and runs the worker set only while this instance holds it.
package leader

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/coord"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateLeading  State = "LEADING"
)

var validTransitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateLeading, StateStopped},
	StateLeading:  {StateStopped},
}

// Runner is the work performed while leading. Run must return promptly once ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// Config configures a Supervisor.
type Config struct {
	Key string
	// HolderID identifies this instance; a random UUID is used when empty.
	HolderID        string
	TTL             time.Duration
	RenewInterval   time.Duration
	AcquireInterval time.Duration
	// OnStateChange, when set, is called after every state transition.
	OnStateChange func(State)
}

// Supervisor owns the leadership lifecycle of one instance.
type Supervisor struct {
	cfg    Config
	locker coord.Locker
	runner Runner
	now    func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a Supervisor in the STOPPED state.
func New(cfg Config, locker coord.Locker, runner Runner) *Supervisor {
	if cfg.HolderID == "" {
		cfg.HolderID = uuid.NewString()
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = cfg.TTL / 3
	}
	if cfg.AcquireInterval <= 0 {
		cfg.AcquireInterval = cfg.TTL
	}
	return &Supervisor{cfg: cfg, locker: locker, runner: runner, now: time.Now, state: StateStopped}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Holder returns this instance's lease holder id.
func (s *Supervisor) Holder() string {
	return s.cfg.HolderID
}

// IsLeader reports whether this instance is currently running the workers.
func (s *Supervisor) IsLeader() bool {
	return s.State() == StateLeading
}

func (s *Supervisor) transition(to State) {
	s.mu.Lock()
	from := s.state
	allowed := false
	for _, st := range validTransitions[from] {
		if st == to {
			allowed = true
			break
		}
	}
	if allowed {
		s.state = to
	}
	s.mu.Unlock()

	if !allowed {
		slog.Error("invalid leadership transition", "from", from, "to", to, "holder_id", s.cfg.HolderID)
		return
	}
	slog.Info("leadership state changed", "from", from, "to", to, "holder_id", s.cfg.HolderID)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(to)
	}
}

// Run takes part in the election until ctx is cancelled. On return the workers
// are stopped and any held lease has been released.
func (s *Supervisor) Run(ctx context.Context) error {
	slog.Info("leadership supervisor started", "holder_id", s.cfg.HolderID, "key", s.cfg.Key,
		"ttl", s.cfg.TTL, "renew_interval", s.cfg.RenewInterval)

	for {
		if acquiredFrom, ok := s.tryAcquire(ctx); ok {
			s.lead(ctx, acquiredFrom)
		}
		if ctx.Err() != nil {
			return nil
		}

		timer := time.NewTimer(s.cfg.AcquireInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// tryAcquire reports whether the lease was taken, along with the time the
// attempt started. The lease can expire no earlier than TTL after that time.
func (s *Supervisor) tryAcquire(ctx context.Context) (time.Time, bool) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RenewInterval)
	defer cancel()

	started := s.now()
	ok, err := s.locker.TryAcquire(callCtx, s.cfg.Key, s.cfg.HolderID, s.cfg.TTL)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("lease acquisition failed", "holder_id", s.cfg.HolderID, "error", err)
		}
		return time.Time{}, false
	}
	return started, ok
}

// lead runs the workers while the lease is held. It returns after the workers
// have stopped.
func (s *Supervisor) lead(ctx context.Context, acquiredFrom time.Time) {
	lastRenewStart := acquiredFrom
	s.transition(StateStarting)

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- s.runner.Run(runCtx) }()
	s.transition(StateLeading)

	stop := func(reason string) {
		cancelRun()
		if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("workers exited with error", "holder_id", s.cfg.HolderID, "error", err)
		}
		s.transition(StateStopped)
		slog.Info("stepped down", "holder_id", s.cfg.HolderID, "reason", reason)
	}

	ticker := time.NewTicker(s.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stop("shutdown")
			s.release()
			return

		case err := <-runDone:
			// Put the result back so stop can drain it.
			runDone <- err
			slog.Error("workers stopped unexpectedly", "holder_id", s.cfg.HolderID, "error", err)
			stop("workers exited")
			s.release()
			return

		case <-ticker.C:
			renewStart := s.now()
			ok, err := s.renew(ctx)
			switch {
			case err != nil:
				if ctx.Err() != nil {
					continue
				}
				remaining := lastRenewStart.Add(s.cfg.TTL).Sub(s.now())
				if remaining > s.cfg.RenewInterval {
					slog.Warn("lease renewal failed, lease still valid", "holder_id", s.cfg.HolderID,
						"remaining", remaining, "error", err)
					continue
				}
				slog.Error("lease renewal failed and lease is about to expire", "holder_id", s.cfg.HolderID,
					"remaining", remaining, "error", err)
				stop("renewal errors")
				return
			case !ok:
				slog.Warn("lease lost to another holder", "holder_id", s.cfg.HolderID)
				stop("lease lost")
				return
			default:
				lastRenewStart = renewStart
			}
		}
	}
}

func (s *Supervisor) renew(ctx context.Context) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.RenewInterval)
	defer cancel()
	return s.locker.Renew(callCtx, s.cfg.Key, s.cfg.HolderID, s.cfg.TTL)
}

func (s *Supervisor) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.locker.Release(ctx, s.cfg.Key, s.cfg.HolderID); err != nil {
		slog.Warn("lease release failed", "holder_id", s.cfg.HolderID, "error", err)
		return
	}
	slog.Info("lease released", "holder_id", s.cfg.HolderID)
}
