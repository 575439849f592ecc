package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// ReviewQueue is the review service the review-queue handlers depend on.
type ReviewQueue interface {
	Get(ctx context.Context, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error)
	ListPending(ctx context.Context, tenantID uuid.UUID, blockingOnly bool) ([]*models.ReviewQueueItem, error)
	Confirm(ctx context.Context, tenantID, itemID uuid.UUID, reviewerID string) (*models.ReviewQueueItem, error)
	Reject(ctx context.Context, tenantID, itemID uuid.UUID, reviewerID string) (*models.ReviewQueueItem, error)
	ResolveDispute(ctx context.Context, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error)
}

// NewListReviewItemsHandler serves GET /api/v1/review-queue?blocking=.
func NewListReviewItemsHandler(svc ReviewQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		items, err := svc.ListPending(r.Context(), tenantID, boolQuery(r, "blocking"))
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.Collection(w, items, len(items))
	}
}

// NewGetReviewItemHandler serves GET /api/v1/review-queue/{itemID}.
func NewGetReviewItemHandler(svc ReviewQueue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		itemID, ok := uuidParam(w, r, "itemID")
		if !ok {
			return
		}
		item, err := svc.Get(r.Context(), tenantID, itemID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, item)
	}
}

// NewConfirmReviewItemHandler serves POST /api/v1/review-queue/{itemID}/confirm.
func NewConfirmReviewItemHandler(svc ReviewQueue) http.HandlerFunc {
	return reviewAction(func(r *http.Request, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error) {
		return svc.Confirm(r.Context(), tenantID, itemID, mw.GetActorID(r))
	})
}

// NewRejectReviewItemHandler serves POST /api/v1/review-queue/{itemID}/reject.
func NewRejectReviewItemHandler(svc ReviewQueue) http.HandlerFunc {
	return reviewAction(func(r *http.Request, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error) {
		return svc.Reject(r.Context(), tenantID, itemID, mw.GetActorID(r))
	})
}

// NewResolveDisputeHandler serves POST /api/v1/review-queue/{itemID}/resolve-dispute.
func NewResolveDisputeHandler(svc ReviewQueue) http.HandlerFunc {
	return reviewAction(func(r *http.Request, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error) {
		return svc.ResolveDispute(r.Context(), tenantID, itemID)
	})
}

func reviewAction(act func(r *http.Request, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		itemID, ok := uuidParam(w, r, "itemID")
		if !ok {
			return
		}
		item, err := act(r, tenantID, itemID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, item)
	}
}
