// Package approval runs the two-level sign-off workflow for escalated review items.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Status is an escalated item together with its approval records.
type Status struct {
	Item    *models.ReviewQueueItem  `json:"item"`
	Records []*models.ApprovalRecord `json:"records"`
}

// Workflow decides approval levels on escalated review items.
type Workflow struct {
	store     store.Store
	review    *review.Service
	nominator review.Nominator
}

// NewWorkflow creates a Workflow. nominator may be nil.
func NewWorkflow(st store.Store, reviews *review.Service, nominator review.Nominator) *Workflow {
	return &Workflow{store: st, review: reviews, nominator: nominator}
}

// Status returns the item and its approval records.
func (w *Workflow) Status(ctx context.Context, tenantID, itemID uuid.UUID) (*Status, error) {
	item, err := w.review.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	records, err := w.store.ListApprovalRecords(ctx, itemID)
	if err != nil {
		return nil, apperr.Transient(err, "listing approval records")
	}
	if records == nil {
		records = []*models.ApprovalRecord{}
	}
	return &Status{Item: item, Records: records}, nil
}

// PendingLevel2 returns the tenant's items waiting for a Level-2 decision.
func (w *Workflow) PendingLevel2(ctx context.Context, tenantID uuid.UUID) ([]*models.ReviewQueueItem, error) {
	items, err := w.store.ListReviewItems(ctx, store.ReviewFilter{
		TenantID:      tenantID,
		Status:        models.ReviewStatusEscalated,
		ApprovalState: models.ApprovalPendingL2,
	})
	if err != nil {
		return nil, apperr.Transient(err, "listing level 2 items")
	}
	if items == nil {
		items = []*models.ReviewQueueItem{}
	}
	return items, nil
}

// Escalate starts the workflow for a PENDING review item.
func (w *Workflow) Escalate(ctx context.Context, tenantID, itemID uuid.UUID, actorID, reason string) (*models.ReviewQueueItem, error) {
	return w.review.Escalate(ctx, tenantID, itemID, actorID, reason)
}

// Approve records an approval at level. Level 1 opens Level 2; Level 2 activates
// the obligation and nominates its clause.
func (w *Workflow) Approve(ctx context.Context, tenantID, itemID uuid.UUID, level int, approverID, comment string) (*models.ReviewQueueItem, error) {
	current, err := w.authorize(ctx, tenantID, itemID, level, approverID)
	if err != nil {
		return nil, err
	}

	t := store.ApprovalTransition{
		TenantID:   tenantID,
		ItemID:     itemID,
		Level:      level,
		From:       pendingState(level),
		Decision:   models.DecisionApprove,
		ApproverID: approverID,
		Comment:    optional(comment),
	}
	if level == 1 {
		t.To = models.ApprovalPendingL2
		t.OpenApprovalLevel = 2
	} else {
		active := models.ObligationStatusPending
		t.To = models.ApprovalApproved
		t.ObligationStatus = &active
	}

	item, err := w.decide(ctx, t, current)
	if err != nil {
		return nil, err
	}

	slog.Info("approval granted", "item_id", itemID, "level", level, "approver_id", approverID)
	if item.ApprovalState != nil && *item.ApprovalState == models.ApprovalApproved {
		review.NominateItem(ctx, w.store, w.nominator, item)
	}
	return item, nil
}

// Reject records a rejection at level and rejects the obligation.
func (w *Workflow) Reject(ctx context.Context, tenantID, itemID uuid.UUID, level int, approverID, comment string) (*models.ReviewQueueItem, error) {
	current, err := w.authorize(ctx, tenantID, itemID, level, approverID)
	if err != nil {
		return nil, err
	}

	rejected := models.ObligationStatusRejected
	item, err := w.decide(ctx, store.ApprovalTransition{
		TenantID:         tenantID,
		ItemID:           itemID,
		Level:            level,
		From:             pendingState(level),
		To:               models.ApprovalRejected,
		Decision:         models.DecisionReject,
		ApproverID:       approverID,
		Comment:          optional(comment),
		ObligationStatus: &rejected,
	}, current)
	if err != nil {
		return nil, err
	}

	slog.Info("approval rejected", "item_id", itemID, "level", level, "approver_id", approverID)
	return item, nil
}

// authorize runs the checks shared by Approve and Reject, in order: level, item,
// approver grant, escalation, pending level, distinct approvers.
func (w *Workflow) authorize(ctx context.Context, tenantID, itemID uuid.UUID, level int, approverID string) (*models.ReviewQueueItem, error) {
	if level != 1 && level != 2 {
		return nil, apperr.Validation("approval level must be 1 or 2, got %d", level)
	}
	if strings.TrimSpace(approverID) == "" {
		return nil, apperr.Validation("approver id is required")
	}

	item, err := w.review.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	ok, err := w.store.CanApprove(ctx, tenantID, approverID, level)
	if err != nil {
		return nil, apperr.Transient(err, "checking approver")
	}
	if !ok {
		return nil, apperr.Permission("user %s cannot approve at level %d", approverID, level)
	}

	if item.ReviewStatus != models.ReviewStatusEscalated || item.ApprovalState == nil {
		return nil, apperr.Conflict(string(item.ReviewStatus),
			"review item %s is %s, not escalated", itemID, item.ReviewStatus)
	}
	if *item.ApprovalState != pendingState(level) {
		return nil, apperr.Conflict(string(*item.ApprovalState),
			"review item %s is %s, not awaiting level %d", itemID, *item.ApprovalState, level)
	}

	// Two-person rule: a grant to both levels does not let one user clear an item alone.
	if level == 2 {
		records, err := w.store.ListApprovalRecords(ctx, itemID)
		if err != nil {
			return nil, apperr.Transient(err, "listing approval records")
		}
		for _, r := range records {
			if r.Level == 1 && r.ApproverID != nil && *r.ApproverID == approverID {
				return nil, apperr.Permission("level 2 must be decided by a different approver than level 1")
			}
		}
	}
	return item, nil
}

func (w *Workflow) decide(ctx context.Context, t store.ApprovalTransition, current *models.ReviewQueueItem) (*models.ReviewQueueItem, error) {
	item, err := w.store.DecideApproval(ctx, t)
	if err == nil {
		return item, nil
	}
	if errors.Is(err, store.ErrStateConflict) {
		latest, getErr := w.review.Get(ctx, t.TenantID, t.ItemID)
		if getErr != nil {
			latest = current
		}
		state := string(latest.ReviewStatus)
		if latest.ApprovalState != nil {
			state = string(*latest.ApprovalState)
		}
		return nil, apperr.Conflict(state, "review item %s changed while deciding level %d", t.ItemID, t.Level)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("review item", t.ItemID)
	}
	return nil, apperr.Transient(err, "deciding approval for %s", t.ItemID)
}

func pendingState(level int) models.ApprovalState {
	if level == 1 {
		return models.ApprovalPendingL1
	}
	return models.ApprovalPendingL2
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
