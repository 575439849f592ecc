package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// CompletionStore records extraction-complete callbacks.
type CompletionStore interface {
	RecordExtractionCompletion(ctx context.Context, c *models.ExtractionCompletion) (bool, error)
}

// NewExtractionCompleteHandler serves POST /api/v1/webhooks/extraction-complete.
// An identical repeat of a recorded callback is a no-op reported as duplicate.
// A document whose completion another tenant recorded is reported as not found.
func NewExtractionCompleteHandler(st CompletionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req records.Completion
		if !decodeBody(w, r, &req) {
			return
		}

		now := time.Now().UTC()
		created, err := st.RecordExtractionCompletion(r.Context(), &models.ExtractionCompletion{
			DocumentID:       req.DocumentID,
			TenantID:         tenantID,
			ExtractionStatus: req.ExtractionStatus,
			ObligationCount:  req.ObligationCount,
			ErrorMessage:     req.ErrorMessage,
			ReceivedAt:       now,
			UpdatedAt:        now,
		})
		if errors.Is(err, store.ErrNotFound) {
			response.FromError(w, apperr.NotFound("document", req.DocumentID))
			return
		}
		if err != nil {
			response.FromError(w, apperr.Transient(err, "recording completion for document %s", req.DocumentID))
			return
		}
		response.JSON(w, map[string]any{
			"document_id": req.DocumentID,
			"duplicate":   !created,
		})
	}
}
