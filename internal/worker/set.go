package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Set runs one Pool per job type in parallel, plus the scheduled stale-job sweep.
// It is what the leader supervisor starts on acquiring leadership.
type Set struct {
	q             queue.Queue
	pools         []*Pool
	sweepSchedule string
	staleAfter    time.Duration
}

// NewSet creates a Set. An empty sweepSchedule disables the stale sweep.
func NewSet(q queue.Queue, sweepSchedule string, staleAfter time.Duration, pools ...*Pool) *Set {
	return &Set{q: q, pools: pools, sweepSchedule: sweepSchedule, staleAfter: staleAfter}
}

// Run blocks until ctx is cancelled or a pool fails.
func (s *Set) Run(ctx context.Context) error {
	if s.sweepSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(s.sweepSchedule, func() { s.Sweep(ctx) }); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.pools {
		g.Go(func() error { return p.Run(gctx) })
	}
	return g.Wait()
}

// Sweep requeues jobs abandoned by a previous leader.
func (s *Set) Sweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	n, err := s.q.SweepStale(ctx, s.staleAfter)
	if err != nil {
		slog.Error("stale job sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("requeued stale jobs", "count", n, "stale_after", s.staleAfter)
	}
}

// Wait blocks until every pool's workers have exited.
func (s *Set) Wait() {
	for _, p := range s.pools {
		p.Wait()
	}
}
