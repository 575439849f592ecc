package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStateConflict is returned by compare-and-set transitions when the row is no
// longer in the expected state.
var ErrStateConflict = errors.New("state conflict")

// Store is the data access interface. All relational pipeline state goes through here;
// the job queue keeps its own tables (see internal/queue).
type Store interface {
	Ping(ctx context.Context) error

	GetDefaultTenant(ctx context.Context) (*models.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	UpdateGatePolicy(ctx context.Context, tenantID uuid.UUID, policy models.GatePolicy) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error

	RecordCandidate(ctx context.Context, rec CandidateRecord) (bool, error)
	GetObligation(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Obligation, error)

	GetReviewItem(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ReviewQueueItem, error)
	ListReviewItems(ctx context.Context, filter ReviewFilter) ([]*models.ReviewQueueItem, error)
	TransitionReviewItem(ctx context.Context, t ReviewTransition) (*models.ReviewQueueItem, error)
	ResolveDispute(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) error
	CountUnresolvedDisputes(ctx context.Context, patternID uuid.UUID) (int, error)

	ListApprovalRecords(ctx context.Context, itemID uuid.UUID) ([]*models.ApprovalRecord, error)
	DecideApproval(ctx context.Context, t ApprovalTransition) (*models.ReviewQueueItem, error)
	CanApprove(ctx context.Context, tenantID uuid.UUID, userID string, level int) (bool, error)
	GrantApprover(ctx context.Context, tenantID uuid.UUID, userID string, level int) error

	NominatePattern(ctx context.Context, candidate *models.PatternCandidate) (*models.PatternCandidate, error)
	GetPatternCandidate(ctx context.Context, id uuid.UUID) (*models.PatternCandidate, error)
	ApprovePatternCandidate(ctx context.Context, id uuid.UUID) error
	ListTenantPatterns(ctx context.Context, tenantID uuid.UUID, regulator, documentType string) ([]*models.PatternCandidate, error)
	PromotePattern(ctx context.Context, candidateID uuid.UUID) (*models.SharedPattern, bool, error)
	GetSharedPattern(ctx context.Context, id uuid.UUID) (*models.SharedPattern, error)
	ListSharedPatterns(ctx context.Context, regulator, documentType string) ([]*models.SharedPattern, error)

	RecordExtractionCompletion(ctx context.Context, c *models.ExtractionCompletion) (bool, error)
}

// CandidateRecord persists the outcome of gating one extraction candidate: the
// obligation and, when the gate routed it to review, its review item.
type CandidateRecord struct {
	Obligation *models.Obligation
	ReviewItem *models.ReviewQueueItem
}

// ReviewFilter selects review items for a tenant. Zero values mean "any".
type ReviewFilter struct {
	TenantID      uuid.UUID
	Status        models.ReviewStatus
	ApprovalState models.ApprovalState
	BlockingOnly  bool
	Limit         int
}

// ReviewTransition moves a review item from one status to another if, and only
// if, it is still in From. Optional fields are applied in the same transaction.
type ReviewTransition struct {
	TenantID         uuid.UUID
	ItemID           uuid.UUID
	From             models.ReviewStatus
	To               models.ReviewStatus
	ActorID          string
	EscalationReason *string
	ApprovalState    *models.ApprovalState
	ObligationStatus *models.ObligationStatus
	// OpenApprovalLevel, when non-zero, creates a PENDING approval record at that level.
	OpenApprovalLevel int
}

// ApprovalTransition records a decision at one approval level and advances the
// item's approval state from From to To.
type ApprovalTransition struct {
	TenantID          uuid.UUID
	ItemID            uuid.UUID
	Level             int
	From              models.ApprovalState
	To                models.ApprovalState
	Decision          models.ApprovalDecision
	ApproverID        string
	Comment           *string
	OpenApprovalLevel int
	ObligationStatus  *models.ObligationStatus
}
