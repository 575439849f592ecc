package review

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// Nominator offers the clause of an activated obligation for pattern reuse.
type Nominator interface {
	NominateObligation(ctx context.Context, o *models.Obligation) (*models.PatternCandidate, error)
}

// Service resolves review queue items.
type Service struct {
	store     store.Store
	nominator Nominator
}

// NewService creates a Service. nominator may be nil.
func NewService(st store.Store, nominator Nominator) *Service {
	return &Service{store: st, nominator: nominator}
}

// Get returns a review item of the tenant.
func (s *Service) Get(ctx context.Context, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error) {
	item, err := s.store.GetReviewItem(ctx, itemID, tenantID)
	if err != nil {
		return nil, translate(err, itemID)
	}
	return item, nil
}

// ListPending returns the tenant's PENDING items, highest priority first.
func (s *Service) ListPending(ctx context.Context, tenantID uuid.UUID, blockingOnly bool) ([]*models.ReviewQueueItem, error) {
	items, err := s.store.ListReviewItems(ctx, store.ReviewFilter{
		TenantID:     tenantID,
		Status:       models.ReviewStatusPending,
		BlockingOnly: blockingOnly,
	})
	if err != nil {
		return nil, apperr.Transient(err, "listing review items")
	}
	if items == nil {
		items = []*models.ReviewQueueItem{}
	}
	return items, nil
}

// Confirm accepts a PENDING item and activates its obligation. Items that need
// dual sign-off cannot be confirmed by one reviewer and must be escalated.
func (s *Service) Confirm(ctx context.Context, tenantID, itemID uuid.UUID, reviewerID string) (*models.ReviewQueueItem, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, apperr.Validation("reviewer id is required")
	}
	current, err := s.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}
	if current.ReviewStatus != models.ReviewStatusPending {
		return nil, notPending(current)
	}
	if current.RequiresDualSignoff {
		return nil, apperr.Permission("review item %s has high hallucination risk and must be escalated for dual sign-off", itemID)
	}

	active := models.ObligationStatusPending
	item, err := s.transition(ctx, store.ReviewTransition{
		TenantID:         tenantID,
		ItemID:           itemID,
		From:             models.ReviewStatusPending,
		To:               models.ReviewStatusConfirmed,
		ActorID:          reviewerID,
		ObligationStatus: &active,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("review item confirmed", "item_id", itemID, "reviewer_id", reviewerID)
	NominateItem(ctx, s.store, s.nominator, item)
	return item, nil
}

// Reject rejects a PENDING item and its obligation. A rejected item that came from
// a pattern counts as an unresolved dispute against that pattern.
func (s *Service) Reject(ctx context.Context, tenantID, itemID uuid.UUID, reviewerID string) (*models.ReviewQueueItem, error) {
	if strings.TrimSpace(reviewerID) == "" {
		return nil, apperr.Validation("reviewer id is required")
	}

	rejected := models.ObligationStatusRejected
	item, err := s.transition(ctx, store.ReviewTransition{
		TenantID:         tenantID,
		ItemID:           itemID,
		From:             models.ReviewStatusPending,
		To:               models.ReviewStatusRejected,
		ActorID:          reviewerID,
		ObligationStatus: &rejected,
	})
	if err != nil {
		return nil, err
	}

	if item.PatternID != nil {
		slog.Info("review item rejected; pattern disputed", "item_id", itemID, "pattern_id", *item.PatternID)
	} else {
		slog.Info("review item rejected", "item_id", itemID, "reviewer_id", reviewerID)
	}
	return item, nil
}

// Escalate sends a PENDING item to the two-level approval workflow.
func (s *Service) Escalate(ctx context.Context, tenantID, itemID uuid.UUID, actorID, reason string) (*models.ReviewQueueItem, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, apperr.Validation("actor id is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("escalation reason is required")
	}

	pendingL1 := models.ApprovalPendingL1
	item, err := s.transition(ctx, store.ReviewTransition{
		TenantID:          tenantID,
		ItemID:            itemID,
		From:              models.ReviewStatusPending,
		To:                models.ReviewStatusEscalated,
		ActorID:           actorID,
		EscalationReason:  &reason,
		ApprovalState:     &pendingL1,
		OpenApprovalLevel: 1,
	})
	if err != nil {
		return nil, err
	}

	slog.Info("review item escalated", "item_id", itemID, "actor_id", actorID)
	return item, nil
}

// ResolveDispute clears a rejected, pattern-linked item so it no longer blocks promotion.
func (s *Service) ResolveDispute(ctx context.Context, tenantID, itemID uuid.UUID) (*models.ReviewQueueItem, error) {
	if err := s.store.ResolveDispute(ctx, itemID, tenantID); err != nil {
		if errors.Is(err, store.ErrStateConflict) {
			current, getErr := s.Get(ctx, tenantID, itemID)
			if getErr != nil {
				return nil, getErr
			}
			return nil, apperr.Conflict(string(current.ReviewStatus),
				"review item %s is not a rejected pattern match", itemID)
		}
		return nil, translate(err, itemID)
	}
	return s.Get(ctx, tenantID, itemID)
}

// transition applies t and turns a lost compare-and-set into a conflict that
// names the item's current state.
func (s *Service) transition(ctx context.Context, t store.ReviewTransition) (*models.ReviewQueueItem, error) {
	item, err := s.store.TransitionReviewItem(ctx, t)
	if err == nil {
		return item, nil
	}
	if errors.Is(err, store.ErrStateConflict) {
		current, getErr := s.Get(ctx, t.TenantID, t.ItemID)
		if getErr != nil {
			return nil, getErr
		}
		return nil, notPending(current)
	}
	return nil, translate(err, t.ItemID)
}

// NominateItem nominates the obligation behind an activated item. Failures are
// logged and never fail the caller.
func NominateItem(ctx context.Context, st store.Store, nominator Nominator, item *models.ReviewQueueItem) {
	if nominator == nil || item.ObligationID == nil {
		return
	}
	o, err := st.GetObligation(ctx, *item.ObligationID, item.TenantID)
	if err != nil {
		slog.Warn("pattern nomination skipped", "item_id", item.ID, "error", err)
		return
	}
	if _, err := nominator.NominateObligation(ctx, o); err != nil {
		slog.Warn("pattern nomination failed", "item_id", item.ID, "obligation_id", o.ID, "error", err)
	}
}

func notPending(item *models.ReviewQueueItem) error {
	return apperr.Conflict(string(item.ReviewStatus),
		"review item %s is already %s", item.ID, item.ReviewStatus)
}

func translate(err error, itemID uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("review item", itemID)
	}
	return apperr.Transient(err, "review item %s", itemID)
}
