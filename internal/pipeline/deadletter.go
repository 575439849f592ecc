package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/internal/worker"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const failureNotifyTimeout = 10 * time.Second

// FailureReporter reports dead-lettered extraction jobs to the records layer as
// FAILED completions.
type FailureReporter struct {
	notifier records.Notifier
}

// NewFailureReporter creates a FailureReporter.
func NewFailureReporter(n records.Notifier) *FailureReporter {
	return &FailureReporter{notifier: n}
}

// OnEvent implements worker.Observer.
func (r *FailureReporter) OnEvent(ctx context.Context, ev worker.Event) {
	if ev.Outcome != worker.OutcomeDead || ev.Type != models.JobTypeExtraction {
		return
	}

	raw, msg := deadPayload(ev)
	var p queue.ExtractionPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.DocumentID == uuid.Nil {
		slog.Error("dead extraction job has no document id; completion not reported", "job_id", ev.JobID)
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureNotifyTimeout)
	defer cancel()
	if err := r.notifier.NotifyCompletion(notifyCtx, records.Completion{
		DocumentID:       p.DocumentID,
		ExtractionStatus: models.ExtractionStatusFailed,
		ErrorMessage:     &msg,
	}); err != nil {
		slog.Error("reporting failed extraction", "job_id", ev.JobID, "document_id", p.DocumentID, "error", err)
		return
	}
	slog.Info("failed extraction reported", "job_id", ev.JobID, "document_id", p.DocumentID)
}

func deadPayload(ev worker.Event) (json.RawMessage, string) {
	if dl := ev.DeadLetter; dl != nil {
		return dl.Payload, dl.FinalError
	}
	var raw json.RawMessage
	if ev.Job != nil {
		raw = ev.Job.Payload
	}
	msg := "extraction failed"
	if ev.Err != nil {
		msg = ev.Err.Error()
	}
	return raw, msg
}

// Compile-time check that FailureReporter implements worker.Observer.
var _ worker.Observer = (*FailureReporter)(nil)
