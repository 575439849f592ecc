package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const (
	jobStatusTTL         = 24 * time.Hour
	defaultDeadLetterMax = 50
	maxDeadLetterLimit   = 500
)

// JobQueue is the subset of queue.Queue the job handlers depend on.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType models.JobType, payload json.RawMessage, priority int) (*models.Job, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListDeadLetters(ctx context.Context, jobType models.JobType, limit int) ([]*models.DeadLetter, error)
	RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.Job, error)
}

// JobStatusCache holds the latest known status of recent jobs.
type JobStatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// JobView is the client-facing view of a job.
type JobView struct {
	ID           uuid.UUID        `json:"job_id"`
	Type         models.JobType   `json:"type,omitempty"`
	Status       models.JobStatus `json:"status"`
	AttemptCount int              `json:"attempt_count"`
	MaxAttempts  int              `json:"max_attempts,omitempty"`
	LastError    *string          `json:"last_error,omitempty"`
	// Cached is true when the status came from the cache because the queue was unavailable.
	Cached bool `json:"cached,omitempty"`
}

func viewOf(j *models.Job) JobView {
	return JobView{
		ID:           j.ID,
		Type:         j.Type,
		Status:       j.Status,
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		LastError:    j.LastError,
	}
}

type extractRequest struct {
	queue.ExtractionPayload
	Priority int `json:"priority"`
}

type distributeRequest struct {
	queue.DistributionPayload
	Priority int `json:"priority"`
}

// NewExtractHandler serves POST /api/v1/documents/extract. company_id defaults
// to the caller's tenant and may not name another tenant.
func NewExtractHandler(q JobQueue, c JobStatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req extractRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !ownCompany(w, &req.CompanyID, tenantID) {
			return
		}
		enqueue(w, r, q, c, models.JobTypeExtraction, req.ExtractionPayload, req.Priority)
	}
}

// NewDistributeHandler serves POST /api/v1/packs/distribute.
func NewDistributeHandler(q JobQueue, c JobStatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req distributeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if !ownCompany(w, &req.CompanyID, tenantID) {
			return
		}
		enqueue(w, r, q, c, models.JobTypeDistribution, req.DistributionPayload, req.Priority)
	}
}

func ownCompany(w http.ResponseWriter, companyID *uuid.UUID, tenantID uuid.UUID) bool {
	if *companyID == uuid.Nil {
		*companyID = tenantID
		return true
	}
	if *companyID != tenantID {
		response.FromError(w, apperr.Permission("company_id does not match the API key's tenant"))
		return false
	}
	return true
}

func enqueue(w http.ResponseWriter, r *http.Request, q JobQueue, c JobStatusCache, jobType models.JobType, payload any, priority int) {
	raw, err := queue.EncodePayload(jobType, payload)
	if err != nil {
		response.FromError(w, err)
		return
	}
	job, err := q.Enqueue(r.Context(), jobType, raw, priority)
	if err != nil {
		if !errors.Is(err, apperr.ErrValidation) {
			err = apperr.Transient(err, "enqueueing %s job", jobType)
		}
		response.FromError(w, err)
		return
	}
	if err := c.SetJobStatus(r.Context(), job.ID, string(job.Status), jobStatusTTL); err != nil {
		slog.Warn("caching job status", "job_id", job.ID, "error", err)
	}
	slog.Info("job enqueued", "job_id", job.ID, "job_type", jobType, "priority", priority)
	response.Accepted(w, viewOf(job))
}

// NewGetJobHandler serves GET /api/v1/jobs/{jobID}. Jobs of other tenants are
// reported as not found. When the queue is unavailable the cached status is
// returned instead.
func NewGetJobHandler(q JobQueue, c JobStatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		jobID, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}

		job, err := q.Get(r.Context(), jobID)
		switch {
		case errors.Is(err, queue.ErrNotFound):
			response.FromError(w, apperr.NotFound("job", jobID))
			return
		case err != nil:
			if status, found, cerr := c.GetJobStatus(r.Context(), jobID); cerr == nil && found {
				response.JSON(w, JobView{ID: jobID, Status: models.JobStatus(status), Cached: true})
				return
			}
			response.FromError(w, apperr.Transient(err, "loading job %s", jobID))
			return
		}

		if companyOf(job) != tenantID {
			response.FromError(w, apperr.NotFound("job", jobID))
			return
		}
		response.JSON(w, viewOf(job))
	}
}

func companyOf(job *models.Job) uuid.UUID {
	var p struct {
		CompanyID uuid.UUID `json:"company_id"`
	}
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return uuid.Nil
	}
	return p.CompanyID
}

// NewListDeadLettersHandler serves GET /api/v1/jobs/dead-letters?type=&limit=.
func NewListDeadLettersHandler(q JobQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobType := models.JobType(r.URL.Query().Get("type"))
		switch jobType {
		case "", models.JobTypeExtraction, models.JobTypeDistribution:
		default:
			response.FromError(w, apperr.Validation("unknown job type %q", jobType))
			return
		}

		limit := defaultDeadLetterMax
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > maxDeadLetterLimit {
				response.FromError(w, apperr.Validation("limit must be between 1 and %d", maxDeadLetterLimit))
				return
			}
			limit = n
		}

		out, err := q.ListDeadLetters(r.Context(), jobType, limit)
		if err != nil {
			response.FromError(w, apperr.Transient(err, "listing dead letters"))
			return
		}
		if out == nil {
			out = []*models.DeadLetter{}
		}
		response.Collection(w, out, len(out))
	}
}

// NewRetryDeadLetterHandler serves POST /api/v1/jobs/dead-letters/{deadLetterID}/retry.
func NewRetryDeadLetterHandler(q JobQueue, c JobStatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "deadLetterID")
		if !ok {
			return
		}
		job, err := q.RetryDeadLetter(r.Context(), id)
		if err != nil {
			if errors.Is(err, queue.ErrNotFound) {
				response.FromError(w, apperr.NotFound("dead letter", id))
				return
			}
			response.FromError(w, apperr.Transient(err, "retrying dead letter %s", id))
			return
		}
		if err := c.SetJobStatus(r.Context(), job.ID, string(job.Status), jobStatusTTL); err != nil {
			slog.Warn("caching job status", "job_id", job.ID, "error", err)
		}
		slog.Info("dead letter retried", "dead_letter_id", id, "job_id", job.ID)
		response.Accepted(w, viewOf(job))
	}
}
