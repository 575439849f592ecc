// Package patterns turns verified clauses into reusable extraction patterns and
// promotes them across tenants once enough independent tenants have seen them.
package patterns

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
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// DefaultMinOccurrences is the number of distinct tenants a pattern must be seen
// in more than before it can be shared.
const DefaultMinOccurrences = 3

// Nomination is a verified clause offered as a tenant pattern.
type Nomination struct {
	TenantID     uuid.UUID
	Regulator    string
	DocumentType string
	ClauseText   string
	Fields       map[string]string
}

// Eligibility is the promotion verdict for a candidate.
type Eligibility struct {
	CandidateID        uuid.UUID `json:"candidate_id"`
	Eligible           bool      `json:"eligible"`
	Reason             string    `json:"reason,omitempty"`
	OccurrenceCount    int       `json:"occurrence_count"`
	MinOccurrences     int       `json:"min_occurrences"`
	UnresolvedDisputes int       `json:"unresolved_disputes"`
	OwnerApproved      bool      `json:"owner_approved"`
}

// Service manages pattern candidates and shared patterns.
type Service struct {
	store          store.Store
	minOccurrences int
}

// NewService creates a Service. minOccurrences below 1 falls back to DefaultMinOccurrences.
func NewService(st store.Store, minOccurrences int) *Service {
	if minOccurrences < 1 {
		minOccurrences = DefaultMinOccurrences
	}
	return &Service{store: st, minOccurrences: minOccurrences}
}

// Nominate creates or refreshes the tenant's candidate for the clause and records
// the tenant as an occurrence of its fingerprint.
func (s *Service) Nominate(ctx context.Context, n Nomination) (*models.PatternCandidate, error) {
	clause := strings.TrimSpace(n.ClauseText)
	if clause == "" {
		return nil, apperr.Validation("clause text is required")
	}

	body, err := json.Marshal(extraction.PatternBodyFor(clause, n.Fields))
	if err != nil {
		return nil, fmt.Errorf("encoding pattern body: %w", err)
	}

	now := time.Now().UTC()
	c, err := s.store.NominatePattern(ctx, &models.PatternCandidate{
		ID:           uuid.New(),
		TenantID:     n.TenantID,
		Regulator:    n.Regulator,
		DocumentType: n.DocumentType,
		PatternBody:  body,
		Fingerprint:  extraction.Fingerprint(clause),
		Scope:        models.ScopeTenant,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, apperr.Transient(err, "nominating pattern")
	}

	slog.Info("pattern nominated",
		"candidate_id", c.ID,
		"tenant_id", c.TenantID,
		"fingerprint", c.Fingerprint,
		"occurrence_count", c.OccurrenceCount,
	)
	return c, nil
}

// NominateObligation nominates the clause of an activated obligation.
func (s *Service) NominateObligation(ctx context.Context, o *models.Obligation) (*models.PatternCandidate, error) {
	return s.Nominate(ctx, Nomination{
		TenantID:     o.TenantID,
		Regulator:    o.Regulator,
		DocumentType: o.DocumentType,
		ClauseText:   o.Text,
		Fields:       o.RawFields,
	})
}

// ApproveCandidate records the owning tenant's consent to share the candidate.
func (s *Service) ApproveCandidate(ctx context.Context, tenantID, candidateID uuid.UUID) (*models.PatternCandidate, error) {
	c, err := s.getCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.TenantID != tenantID {
		return nil, apperr.NotFound("pattern candidate", candidateID)
	}
	if err := s.store.ApprovePatternCandidate(ctx, candidateID); err != nil {
		return nil, translate(err, "pattern candidate", candidateID)
	}
	c.OwnerApproved = true
	return c, nil
}

// CheckEligibility reports whether the candidate may be promoted and, if not, why.
// Reasons are checked in order: occurrences, disputes, owner approval.
func (s *Service) CheckEligibility(ctx context.Context, candidateID uuid.UUID) (*Eligibility, error) {
	c, err := s.getCandidate(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.eligibility(ctx, c)
}

func (s *Service) eligibility(ctx context.Context, c *models.PatternCandidate) (*Eligibility, error) {
	disputes, err := s.store.CountUnresolvedDisputes(ctx, c.ID)
	if err != nil {
		return nil, apperr.Transient(err, "counting disputes")
	}

	e := &Eligibility{
		CandidateID:        c.ID,
		OccurrenceCount:    c.OccurrenceCount,
		MinOccurrences:     s.minOccurrences,
		UnresolvedDisputes: disputes,
		OwnerApproved:      c.OwnerApproved,
	}
	switch {
	case c.OccurrenceCount <= s.minOccurrences:
		e.Reason = fmt.Sprintf("pattern seen in %d tenant(s); more than %d required", c.OccurrenceCount, s.minOccurrences)
	case disputes > 0:
		e.Reason = fmt.Sprintf("pattern has %d unresolved rejected review(s)", disputes)
	case !c.OwnerApproved:
		e.Reason = "pattern owner has not approved sharing"
	default:
		e.Eligible = true
	}
	return e, nil
}

// Promote publishes an eligible candidate as a shared pattern. Callers need the
// patterns:admin scope. Promoting an already promoted candidate returns the
// existing shared pattern; the bool result reports whether a new one was created.
func (s *Service) Promote(ctx context.Context, candidateID uuid.UUID, scopes []string) (*models.SharedPattern, bool, error) {
	if !hasScope(scopes, models.ScopePatternsAdmin) {
		return nil, false, apperr.Permission("promoting patterns requires the %s scope", models.ScopePatternsAdmin)
	}

	c, err := s.getCandidate(ctx, candidateID)
	if err != nil {
		return nil, false, err
	}

	if c.SharedPatternID == nil {
		e, err := s.eligibility(ctx, c)
		if err != nil {
			return nil, false, err
		}
		if !e.Eligible {
			return nil, false, apperr.Ineligible(e.Reason)
		}
	}

	shared, created, err := s.store.PromotePattern(ctx, candidateID)
	if err != nil {
		return nil, false, translate(err, "pattern candidate", candidateID)
	}

	slog.Info("pattern promoted",
		"candidate_id", candidateID,
		"shared_pattern_id", shared.ID,
		"created", created,
	)
	return shared, created, nil
}

// ListShared returns shared patterns; empty filters match any value.
func (s *Service) ListShared(ctx context.Context, regulator, documentType string) ([]*models.SharedPattern, error) {
	out, err := s.store.ListSharedPatterns(ctx, regulator, documentType)
	if err != nil {
		return nil, apperr.Transient(err, "listing shared patterns")
	}
	if out == nil {
		out = []*models.SharedPattern{}
	}
	return out, nil
}

func (s *Service) getCandidate(ctx context.Context, id uuid.UUID) (*models.PatternCandidate, error) {
	c, err := s.store.GetPatternCandidate(ctx, id)
	if err != nil {
		return nil, translate(err, "pattern candidate", id)
	}
	return c, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}

func translate(err error, resource string, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(resource, id)
	}
	return apperr.Transient(err, "%s %s", resource, id)
}
