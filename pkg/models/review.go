package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus is the state of a review queue item.
type ReviewStatus string

const (
	ReviewStatusPending   ReviewStatus = "PENDING"
	ReviewStatusConfirmed ReviewStatus = "CONFIRMED"
	ReviewStatusRejected  ReviewStatus = "REJECTED"
	ReviewStatusEscalated ReviewStatus = "ESCALATED"
)

// ReviewType explains why a candidate was routed to review.
type ReviewType string

const (
	ReviewTypeLowConfidence      ReviewType = "LOW_CONFIDENCE"
	ReviewTypeSubjectiveLanguage ReviewType = "SUBJECTIVE_LANGUAGE"
)

// Priority orders review items for reviewers.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// HallucinationRisk estimates how likely an extracted field is a plausible invention.
type HallucinationRisk string

const (
	RiskLow    HallucinationRisk = "LOW"
	RiskMedium HallucinationRisk = "MEDIUM"
	RiskHigh   HallucinationRisk = "HIGH"
)

// ApprovalState is the state of the two-level approval workflow for an escalated item.
type ApprovalState string

const (
	ApprovalPendingL1 ApprovalState = "PENDING_L1"
	ApprovalPendingL2 ApprovalState = "PENDING_L2"
	ApprovalApproved  ApprovalState = "APPROVED"
	ApprovalRejected  ApprovalState = "REJECTED"
)

// ReviewQueueItem is a gated candidate awaiting human confirmation.
type ReviewQueueItem struct {
	ID                  uuid.UUID         `db:"id"                    json:"id"`
	TenantID            uuid.UUID         `db:"tenant_id"             json:"tenant_id"`
	DocumentID          uuid.UUID         `db:"document_id"           json:"document_id"`
	ObligationID        *uuid.UUID        `db:"obligation_id"         json:"obligation_id,omitempty"`
	PatternID           *uuid.UUID        `db:"pattern_id"            json:"pattern_id,omitempty"`
	ReviewType          ReviewType        `db:"review_type"           json:"review_type"`
	IsBlocking          bool              `db:"is_blocking"           json:"is_blocking"`
	RequiresDualSignoff bool              `db:"requires_dual_signoff" json:"requires_dual_signoff"`
	Priority            Priority          `db:"priority"              json:"priority"`
	HallucinationRisk   HallucinationRisk `db:"hallucination_risk"    json:"hallucination_risk"`
	OriginalData        json.RawMessage   `db:"original_data"         json:"original_data"`
	ReviewStatus        ReviewStatus      `db:"review_status"         json:"review_status"`
	ApprovalState       *ApprovalState    `db:"approval_state"        json:"approval_state,omitempty"`
	EscalationReason    *string           `db:"escalation_reason"     json:"escalation_reason,omitempty"`
	DisputeResolved     bool              `db:"dispute_resolved"      json:"dispute_resolved"`
	ReviewedBy          *string           `db:"reviewed_by"           json:"reviewed_by,omitempty"`
	ReviewedAt          *time.Time        `db:"reviewed_at"           json:"reviewed_at,omitempty"`
	CreatedAt           time.Time         `db:"created_at"            json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at"            json:"updated_at"`
}

// ApprovalDecision is the outcome recorded on an approval record.
type ApprovalDecision string

const (
	DecisionPending ApprovalDecision = "PENDING"
	DecisionApprove ApprovalDecision = "APPROVE"
	DecisionReject  ApprovalDecision = "REJECT"
)

// ApprovalRecord is one sign-off step. There is at most one record per (item, level).
type ApprovalRecord struct {
	ItemID     uuid.UUID        `db:"item_id"     json:"item_id"`
	Level      int              `db:"level"       json:"level"`
	Decision   ApprovalDecision `db:"decision"    json:"decision"`
	ApproverID *string          `db:"approver_id" json:"approver_id,omitempty"`
	Comment    *string          `db:"comment"     json:"comment,omitempty"`
	DecidedAt  *time.Time       `db:"decided_at"  json:"decided_at,omitempty"`
	CreatedAt  time.Time        `db:"created_at"  json:"created_at"`
}
