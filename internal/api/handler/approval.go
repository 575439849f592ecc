package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/api/response"
	"github.com/kiranshivaraju/trustgate/internal/approval"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Approval workflow actions accepted by POST /api/v1/approval-workflow.
const (
	ActionEscalate = "escalate"
	ActionApprove  = "approve"
	ActionReject   = "reject"
)

// ApprovalWorkflow is the workflow the approval handlers depend on.
type ApprovalWorkflow interface {
	Status(ctx context.Context, tenantID, itemID uuid.UUID) (*approval.Status, error)
	PendingLevel2(ctx context.Context, tenantID uuid.UUID) ([]*models.ReviewQueueItem, error)
	Escalate(ctx context.Context, tenantID, itemID uuid.UUID, actorID, reason string) (*models.ReviewQueueItem, error)
	Approve(ctx context.Context, tenantID, itemID uuid.UUID, level int, approverID, comment string) (*models.ReviewQueueItem, error)
	Reject(ctx context.Context, tenantID, itemID uuid.UUID, level int, approverID, comment string) (*models.ReviewQueueItem, error)
}

type approvalRequest struct {
	Action  string    `json:"action"  validate:"required,oneof=escalate approve reject"`
	ItemID  uuid.UUID `json:"itemId"  validate:"required"`
	Level   int       `json:"level"   validate:"required_unless=Action escalate"`
	Comment string    `json:"comment"`
	Reason  string    `json:"reason"  validate:"required_if=Action escalate"`
}

// NewGetApprovalWorkflowHandler serves GET /api/v1/approval-workflow?itemId= and
// GET /api/v1/approval-workflow?pendingLevel2=true.
func NewGetApprovalWorkflowHandler(wf ApprovalWorkflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}

		if boolQuery(r, "pendingLevel2") {
			items, err := wf.PendingLevel2(r.Context(), tenantID)
			if err != nil {
				response.FromError(w, err)
				return
			}
			response.Collection(w, items, len(items))
			return
		}

		itemID, err := uuid.Parse(r.URL.Query().Get("itemId"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "itemId or pendingLevel2=true is required", nil)
			return
		}
		status, err := wf.Status(r.Context(), tenantID, itemID)
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, status)
	}
}

// NewPostApprovalWorkflowHandler serves POST /api/v1/approval-workflow.
func NewPostApprovalWorkflowHandler(wf ApprovalWorkflow) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		var req approvalRequest
		if !decodeBody(w, r, &req) {
			return
		}

		actor := mw.GetActorID(r)
		var (
			item *models.ReviewQueueItem
			err  error
		)
		switch req.Action {
		case ActionEscalate:
			item, err = wf.Escalate(r.Context(), tenantID, req.ItemID, actor, req.Reason)
		case ActionApprove:
			item, err = wf.Approve(r.Context(), tenantID, req.ItemID, req.Level, actor, req.Comment)
		case ActionReject:
			item, err = wf.Reject(r.Context(), tenantID, req.ItemID, req.Level, actor, req.Comment)
		}
		if err != nil {
			response.FromError(w, err)
			return
		}
		response.JSON(w, item)
	}
}
