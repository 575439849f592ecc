// Package pipeline holds the job handlers that move a document from extraction
// through the risk gate into obligations and review items.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/extraction"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const maxTitleRunes = 120

// Resolver turns document text into extraction candidates.
type Resolver interface {
	Resolve(ctx context.Context, req extraction.Request) (*extraction.Result, error)
}

// Observer is notified about resolved documents and gate decisions. Optional.
type Observer interface {
	ObserveExtraction(usedModel bool, tier string, d time.Duration)
	ObserveGate(action, reviewType string)
}

// ExtractionHandler processes extraction jobs.
type ExtractionHandler struct {
	store    store.Store
	docs     DocumentLoader
	resolver Resolver
	notifier records.Notifier
	observer Observer
	defaults models.GatePolicy
}

// NewExtractionHandler creates an ExtractionHandler. observer may be nil.
func NewExtractionHandler(st store.Store, docs DocumentLoader, resolver Resolver, notifier records.Notifier, observer Observer) *ExtractionHandler {
	return &ExtractionHandler{
		store:    st,
		docs:     docs,
		resolver: resolver,
		notifier: notifier,
		observer: observer,
		defaults: models.GatePolicy{AutoActivateThreshold: 0.8, BlockingThreshold: 0.5},
	}
}

// WithDefaultPolicy sets the gate policy used for tenants without one.
func (h *ExtractionHandler) WithDefaultPolicy(p models.GatePolicy) *ExtractionHandler {
	h.defaults = p
	return h
}

// Summary is the outcome of one extraction job.
type Summary struct {
	DocumentID    uuid.UUID
	UsedModel     bool
	Candidates    int
	AutoActivated int
	Reviewed      int
	// Existing counts candidates recorded by an earlier attempt of the same job.
	Existing int
}

// Handle implements worker.Handler.
func (h *ExtractionHandler) Handle(ctx context.Context, job *models.Job) error {
	_, err := h.Process(ctx, job)
	return err
}

// Process runs one extraction job: resolve, gate, record, then report completion.
// Re-running a job is safe; candidates already recorded for the document are skipped.
func (h *ExtractionHandler) Process(ctx context.Context, job *models.Job) (*Summary, error) {
	p, err := queue.DecodeExtraction(job)
	if err != nil {
		return nil, err
	}
	logger := slog.With("job_id", job.ID, "document_id", p.DocumentID, "tenant_id", p.CompanyID)

	tenant, err := h.store.GetTenant(ctx, p.CompanyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Permanent(fmt.Errorf("tenant %s does not exist", p.CompanyID))
		}
		return nil, apperr.Transient(err, "loading tenant %s", p.CompanyID)
	}

	text, err := h.docs.Load(ctx, p.FilePath)
	if err != nil {
		return nil, err
	}

	res, err := h.resolver.Resolve(ctx, extraction.Request{
		DocumentID:   p.DocumentID,
		TenantID:     tenant.ID,
		Text:         text,
		ModuleTypes:  p.ModuleTypes,
		Regulator:    p.Regulator,
		DocumentType: p.DocumentType,
		PageCount:    p.PageCount,
	})
	if err != nil {
		return nil, err
	}
	if h.observer != nil {
		h.observer.ObserveExtraction(res.UsedModel, res.Metadata.TimeoutTier, res.Metadata.Duration)
	}

	policy := review.EffectivePolicy(tenant.Policy, h.defaults)
	sum := &Summary{DocumentID: p.DocumentID, UsedModel: res.UsedModel, Candidates: len(res.Obligations)}
	for _, c := range res.Obligations {
		d := review.Classify(c, policy)
		if h.observer != nil {
			h.observer.ObserveGate(string(d.Action), string(d.ReviewType))
		}

		rec, err := buildRecord(p, tenant.ID, c, d, res.Metadata)
		if err != nil {
			return nil, err
		}
		created, err := h.store.RecordCandidate(ctx, rec)
		if err != nil {
			return nil, apperr.Transient(err, "recording candidate for document %s", p.DocumentID)
		}
		switch {
		case !created:
			sum.Existing++
		case d.Action == review.ActionAutoActivate:
			sum.AutoActivated++
		default:
			sum.Reviewed++
		}
	}

	count := sum.Candidates
	if err := h.notifier.NotifyCompletion(ctx, records.Completion{
		DocumentID:       p.DocumentID,
		ExtractionStatus: models.ExtractionStatusCompleted,
		ObligationCount:  &count,
	}); err != nil {
		return nil, err
	}

	logger.Info("document extracted",
		"used_model", sum.UsedModel,
		"candidates", sum.Candidates,
		"auto_activated", sum.AutoActivated,
		"reviewed", sum.Reviewed,
		"existing", sum.Existing,
	)
	return sum, nil
}

// buildRecord turns a gated candidate into an obligation and, when the gate
// routes it to review, a PENDING review item.
func buildRecord(p queue.ExtractionPayload, tenantID uuid.UUID, c models.ExtractionCandidate, d review.Decision, meta extraction.Metadata) (store.CandidateRecord, error) {
	now := time.Now().UTC()
	o := &models.Obligation{
		ID:           uuid.New(),
		TenantID:     tenantID,
		DocumentID:   p.DocumentID,
		SiteID:       p.SiteID,
		SourceKey:    c.Fingerprint,
		Regulator:    p.Regulator,
		DocumentType: p.DocumentType,
		Title:        titleFor(c),
		Text:         c.Text,
		RawFields:    c.RawFields,
		Source:       c.Source,
		Confidence:   c.ConfidenceScore,
		Status:       models.ObligationStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d.Action == review.ActionAutoActivate {
		o.Status = models.ObligationStatusPending
		return store.CandidateRecord{Obligation: o}, nil
	}

	original, err := json.Marshal(originalData{Candidate: c, Decision: d, Metadata: meta})
	if err != nil {
		return store.CandidateRecord{}, apperr.Permanent(fmt.Errorf("encoding review data: %w", err))
	}
	oid := o.ID
	return store.CandidateRecord{
		Obligation: o,
		ReviewItem: &models.ReviewQueueItem{
			ID:                  uuid.New(),
			TenantID:            tenantID,
			DocumentID:          p.DocumentID,
			ObligationID:        &oid,
			PatternID:           c.PatternID,
			ReviewType:          d.ReviewType,
			IsBlocking:          d.IsBlocking,
			RequiresDualSignoff: d.RequiresDualSignoff,
			Priority:            d.Priority,
			HallucinationRisk:   d.HallucinationRisk,
			OriginalData:        original,
			ReviewStatus:        models.ReviewStatusPending,
			CreatedAt:           now,
			UpdatedAt:           now,
		},
	}, nil
}

// originalData is what reviewers see of the candidate as it was extracted.
type originalData struct {
	Candidate models.ExtractionCandidate `json:"candidate"`
	Decision  review.Decision            `json:"decision"`
	Metadata  extraction.Metadata        `json:"metadata"`
}

func titleFor(c models.ExtractionCandidate) string {
	if t := strings.TrimSpace(c.RawFields["title"]); t != "" {
		return t
	}
	title := strings.Join(strings.Fields(c.Text), " ")
	if r := []rune(title); len(r) > maxTitleRunes {
		title = strings.TrimSpace(string(r[:maxTitleRunes])) + "..."
	}
	return title
}
