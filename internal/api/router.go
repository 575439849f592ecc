package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	ListReviewItems    http.HandlerFunc
	GetReviewItem      http.HandlerFunc
	ConfirmReviewItem  http.HandlerFunc
	RejectReviewItem   http.HandlerFunc
	ResolveDispute     http.HandlerFunc
	GetApprovalStatus  http.HandlerFunc
	PostApprovalAction http.HandlerFunc

	ListSharedPatterns   http.HandlerFunc
	PromotePattern       http.HandlerFunc
	CandidateEligibility http.HandlerFunc
	ApproveCandidate     http.HandlerFunc

	ExtractDocument    http.HandlerFunc
	DistributePack     http.HandlerFunc
	GetJob             http.HandlerFunc
	ExtractionComplete http.HandlerFunc

	ListDeadLetters  http.HandlerFunc
	RetryDeadLetter  http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
	GetGatePolicy    http.HandlerFunc
	UpdateGatePolicy http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)
		r.Use(mw.Actor)

		r.Get("/api/v1/shared-patterns", orNotImplemented(deps.ListSharedPatterns))
		r.Post("/api/v1/shared-patterns", orNotImplemented(deps.PromotePattern))
		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJob))

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeReview))

			r.Get("/api/v1/review-queue", orNotImplemented(deps.ListReviewItems))
			r.Get("/api/v1/review-queue/{itemID}", orNotImplemented(deps.GetReviewItem))
			r.Post("/api/v1/review-queue/{itemID}/confirm", orNotImplemented(deps.ConfirmReviewItem))
			r.Post("/api/v1/review-queue/{itemID}/reject", orNotImplemented(deps.RejectReviewItem))
			r.Post("/api/v1/review-queue/{itemID}/resolve-dispute", orNotImplemented(deps.ResolveDispute))

			r.Get("/api/v1/approval-workflow", orNotImplemented(deps.GetApprovalStatus))
			r.Post("/api/v1/approval-workflow", orNotImplemented(deps.PostApprovalAction))

			r.Post("/api/v1/pattern-candidates/{candidateID}/approve", orNotImplemented(deps.ApproveCandidate))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopePatternsAdmin))

			r.Get("/api/v1/pattern-candidates/{candidateID}/eligibility", orNotImplemented(deps.CandidateEligibility))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeIngest))

			r.Post("/api/v1/documents/extract", orNotImplemented(deps.ExtractDocument))
			r.Post("/api/v1/packs/distribute", orNotImplemented(deps.DistributePack))
			r.Post("/api/v1/webhooks/extraction-complete", orNotImplemented(deps.ExtractionComplete))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/jobs/dead-letters", orNotImplemented(deps.ListDeadLetters))
			r.Post("/api/v1/jobs/dead-letters/{deadLetterID}/retry", orNotImplemented(deps.RetryDeadLetter))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))

			r.Get("/api/v1/admin/gate-policy", orNotImplemented(deps.GetGatePolicy))
			r.Put("/api/v1/admin/gate-policy", orNotImplemented(deps.UpdateGatePolicy))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
