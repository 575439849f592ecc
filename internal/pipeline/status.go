package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/worker"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const jobStatusTTL = 24 * time.Hour

// StatusSetter is the subset of cache.Cache the status tracker writes to.
type StatusSetter interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

// StatusTracker mirrors job outcomes into the cache so status polls avoid the database.
type StatusTracker struct {
	cache StatusSetter
}

// NewStatusTracker creates a StatusTracker.
func NewStatusTracker(c StatusSetter) *StatusTracker {
	return &StatusTracker{cache: c}
}

// OnEvent implements worker.Observer. Cache failures are logged and ignored.
func (t *StatusTracker) OnEvent(ctx context.Context, ev worker.Event) {
	var status models.JobStatus
	switch ev.Outcome {
	case worker.OutcomeCompleted:
		status = models.JobStatusCompleted
	case worker.OutcomeRetried:
		status = models.JobStatusPending
	case worker.OutcomeDead:
		status = models.JobStatusDead
	default:
		return
	}
	if err := t.cache.SetJobStatus(ctx, ev.JobID, string(status), jobStatusTTL); err != nil {
		slog.Warn("caching job status", "job_id", ev.JobID, "error", err)
	}
}

var _ worker.Observer = (*StatusTracker)(nil)
