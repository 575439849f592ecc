package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/patterns"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// PatternAdmin is the pattern service the pattern handlers depend on.
type PatternAdmin interface {
	ListShared(ctx context.Context, regulator, documentType string) ([]*models.SharedPattern, error)
	Promote(ctx context.Context, candidateID uuid.UUID, scopes []string) (*models.SharedPattern, bool, error)
	CheckEligibility(ctx context.Context, candidateID uuid.UUID) (*patterns.Eligibility, error)
	ApproveCandidate(ctx context.Context, tenantID, candidateID uuid.UUID) (*models.PatternCandidate, error)
}

// NewListSharedPatternsHandler serves GET /api/v1/shared-patterns?regulator=&documentType=.
func NewListSharedPatternsHandler(svc PatternAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		out, err := svc.ListShared(r.Context(), q.Get("regulator"), q.Get("documentType"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Collection(w, out, len(out))
	}
}

// NewPromotePatternHandler serves POST /api/v1/shared-patterns. A new shared
// pattern is 201; promoting an already shared candidate is 200.
func NewPromotePatternHandler(svc PatternAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PatternID uuid.UUID `json:"patternId" validate:"required"`
		}
		if !decodeBody(w, r, &req) {
			return
		}

		shared, created, err := svc.Promote(r.Context(), req.PatternID, mw.GetScopes(r))
		if err != nil {
			response.FromError(w, err)
			return
		}
		if created {
			response.Created(w, shared)
			return
		}
		response.JSON(w, shared)
	}
}

// NewCandidateEligibilityHandler serves GET /api/v1/pattern-candidates/{candidateID}/eligibility.
func NewCandidateEligibilityHandler(svc PatternAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "candidateID")
		if !ok {
			return
		}
		e, err := svc.CheckEligibility(r.Context(), id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, e)
	}
}

// NewApproveCandidateHandler serves POST /api/v1/pattern-candidates/{candidateID}/approve.
func NewApproveCandidateHandler(svc PatternAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		id, ok := uuidParam(w, r, "candidateID")
		if !ok {
			return
		}
		c, err := svc.ApproveCandidate(r.Context(), tenantID, id)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, c)
	}
}
