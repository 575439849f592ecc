package patterns_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/patterns"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/internal/store/storetest"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clause = "The operator shall monitor discharge monthly."

var adminScopes = []string{models.ScopeRead, models.ScopePatternsAdmin}

func nomination(tenantID uuid.UUID) patterns.Nomination {
	return patterns.Nomination{
		TenantID:     tenantID,
		Regulator:    "EPA",
		DocumentType: "PERMIT",
		ClauseText:   clause,
		Fields:       map[string]string{"frequency": "monthly"},
	}
}

// nominateAcross nominates the clause from n distinct tenants and returns the first candidate.
func nominateAcross(t *testing.T, svc *patterns.Service, st *storetest.Memory, n int) *models.PatternCandidate {
	t.Helper()
	ctx := context.Background()
	var first *models.PatternCandidate
	for i := 0; i < n; i++ {
		tenant := st.AddTenant(uuid.NewString())
		c, err := svc.Nominate(ctx, nomination(tenant.ID))
		require.NoError(t, err)
		if first == nil {
			first = c
		}
	}
	return first
}

func TestNominate_CountsDistinctTenants(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	ctx := context.Background()

	tenant := st.AddTenant("acme")
	c, err := svc.Nominate(ctx, nomination(tenant.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, c.OccurrenceCount)
	assert.Equal(t, models.ScopeTenant, c.Scope)

	again, err := svc.Nominate(ctx, nomination(tenant.ID))
	require.NoError(t, err)
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, 1, again.OccurrenceCount, "same tenant twice is one occurrence")

	other := st.AddTenant("globex")
	_, err = svc.Nominate(ctx, nomination(other.ID))
	require.NoError(t, err)

	refreshed, err := st.GetPatternCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, refreshed.OccurrenceCount)
}

func TestNominate_RequiresClauseText(t *testing.T) {
	svc := patterns.NewService(storetest.NewMemory(), 3)

	n := nomination(uuid.New())
	n.ClauseText = "   "
	_, err := svc.Nominate(context.Background(), n)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestNominateObligation_UsesObligationClause(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	tenant := st.AddTenant("acme")

	c, err := svc.NominateObligation(context.Background(), &models.Obligation{
		TenantID:     tenant.ID,
		Regulator:    "EPA",
		DocumentType: "PERMIT",
		Text:         "4.1 The operator shall monitor discharge monthly",
	})
	require.NoError(t, err)

	direct, err := svc.Nominate(context.Background(), nomination(tenant.ID))
	require.NoError(t, err)
	assert.Equal(t, c.ID, direct.ID, "numbering and punctuation do not change the fingerprint")
}

// Scenario C: at or below the minimum the candidate is ineligible with a reason;
// once more tenants than the minimum have seen it and the owner approved, it
// becomes eligible.
func TestCheckEligibility_OccurrenceThreshold(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	ctx := context.Background()

	c := nominateAcross(t, svc, st, 2)
	_, err := svc.ApproveCandidate(ctx, c.TenantID, c.ID)
	require.NoError(t, err)

	e, err := svc.CheckEligibility(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Equal(t, "pattern seen in 2 tenant(s); more than 3 required", e.Reason)
	assert.Equal(t, 2, e.OccurrenceCount)
	assert.Equal(t, 3, e.MinOccurrences)

	nominateAcross(t, svc, st, 1)

	e, err = svc.CheckEligibility(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible, "reaching the minimum is not enough")
	assert.Equal(t, "pattern seen in 3 tenant(s); more than 3 required", e.Reason)
	assert.Equal(t, 3, e.OccurrenceCount)

	nominateAcross(t, svc, st, 1)

	e, err = svc.CheckEligibility(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, e.Eligible)
	assert.Empty(t, e.Reason)
	assert.Equal(t, 4, e.OccurrenceCount)
}

func TestCheckEligibility_UnresolvedDisputeBlocks(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	ctx := context.Background()

	c := nominateAcross(t, svc, st, 4)
	_, err := svc.ApproveCandidate(ctx, c.TenantID, c.ID)
	require.NoError(t, err)

	itemID := seedRejectedItem(t, st, c.TenantID, c.ID)

	e, err := svc.CheckEligibility(ctx, c.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Contains(t, e.Reason, "1 unresolved rejected review")
	assert.Equal(t, 1, e.UnresolvedDisputes)

	require.NoError(t, st.ResolveDispute(ctx, itemID, c.TenantID))

	e, err = svc.CheckEligibility(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, e.Eligible)
}

func TestCheckEligibility_OwnerApprovalRequired(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)

	c := nominateAcross(t, svc, st, 4)

	e, err := svc.CheckEligibility(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, e.Eligible)
	assert.Equal(t, "pattern owner has not approved sharing", e.Reason)
}

func TestCheckEligibility_UnknownCandidate(t *testing.T) {
	svc := patterns.NewService(storetest.NewMemory(), 3)

	_, err := svc.CheckEligibility(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestApproveCandidate_OtherTenantCannotApprove(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	c := nominateAcross(t, svc, st, 1)

	_, err := svc.ApproveCandidate(context.Background(), uuid.New(), c.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	stored, err := st.GetPatternCandidate(context.Background(), c.ID)
	require.NoError(t, err)
	assert.False(t, stored.OwnerApproved)
}

func TestPromote_RequiresPatternsAdminScope(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 1)
	c := nominateAcross(t, svc, st, 1)
	_, err := svc.ApproveCandidate(context.Background(), c.TenantID, c.ID)
	require.NoError(t, err)

	_, _, err = svc.Promote(context.Background(), c.ID, []string{models.ScopeAdmin})
	assert.ErrorIs(t, err, apperr.ErrPermission)
	assert.Equal(t, 0, st.SharedCount())
}

func TestPromote_IneligibleReturnsReason(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	c := nominateAcross(t, svc, st, 1)

	_, _, err := svc.Promote(context.Background(), c.ID, adminScopes)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrEligibility)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "pattern seen in 1 tenant(s); more than 3 required", ae.Reason)
	assert.Equal(t, 0, st.SharedCount())
}

// Scenario D: promoting an already-GLOBAL pattern twice succeeds both times and
// leaves a single shared row.
func TestPromote_IsIdempotent(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	ctx := context.Background()

	c := nominateAcross(t, svc, st, 4)
	_, err := svc.ApproveCandidate(ctx, c.TenantID, c.ID)
	require.NoError(t, err)

	first, created, err := svc.Promote(ctx, c.ID, adminScopes)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, c.Fingerprint, first.Fingerprint)
	assert.Equal(t, c.ID, first.SourceCandidateID)

	promoted, err := st.GetPatternCandidate(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScopeGlobal, promoted.Scope)

	for i := 0; i < 2; i++ {
		again, created, err := svc.Promote(ctx, c.ID, adminScopes)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
	}
	assert.Equal(t, 1, st.SharedCount())
}

func TestPromote_GlobalSkipsEligibilityRecheck(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 3)
	ctx := context.Background()

	c := nominateAcross(t, svc, st, 4)
	_, err := svc.ApproveCandidate(ctx, c.TenantID, c.ID)
	require.NoError(t, err)
	first, _, err := svc.Promote(ctx, c.ID, adminScopes)
	require.NoError(t, err)

	seedRejectedItem(t, st, c.TenantID, c.ID)

	again, created, err := svc.Promote(ctx, c.ID, adminScopes)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestPromote_SecondTenantSharesExistingPattern(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 1)
	ctx := context.Background()

	a := st.AddTenant("a")
	b := st.AddTenant("b")
	ca, err := svc.Nominate(ctx, nomination(a.ID))
	require.NoError(t, err)
	cb, err := svc.Nominate(ctx, nomination(b.ID))
	require.NoError(t, err)
	_, err = svc.ApproveCandidate(ctx, a.ID, ca.ID)
	require.NoError(t, err)
	_, err = svc.ApproveCandidate(ctx, b.ID, cb.ID)
	require.NoError(t, err)

	sa, created, err := svc.Promote(ctx, ca.ID, adminScopes)
	require.NoError(t, err)
	assert.True(t, created)

	sb, created, err := svc.Promote(ctx, cb.ID, adminScopes)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, sa.ID, sb.ID)
	assert.Equal(t, 1, st.SharedCount())
}

func TestListShared_Filters(t *testing.T) {
	st := storetest.NewMemory()
	svc := patterns.NewService(st, 1)
	ctx := context.Background()

	c := nominateAcross(t, svc, st, 2)
	_, err := svc.ApproveCandidate(ctx, c.TenantID, c.ID)
	require.NoError(t, err)
	_, _, err = svc.Promote(ctx, c.ID, adminScopes)
	require.NoError(t, err)

	all, err := svc.ListShared(ctx, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	none, err := svc.ListShared(ctx, "SEPA", "")
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func seedRejectedItem(t *testing.T, st *storetest.Memory, tenantID, patternID uuid.UUID) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	obligationID := uuid.New()
	itemID := uuid.New()
	pid := patternID
	_, err := st.RecordCandidate(context.Background(), store.CandidateRecord{
		Obligation: &models.Obligation{
			ID: obligationID, TenantID: tenantID, DocumentID: uuid.New(), SourceKey: uuid.NewString(),
			Text: clause, Source: models.SourcePatternMatch, Status: models.ObligationStatusRejected,
			CreatedAt: now, UpdatedAt: now,
		},
		ReviewItem: &models.ReviewQueueItem{
			ID: itemID, TenantID: tenantID, ObligationID: &obligationID, PatternID: &pid,
			ReviewType: models.ReviewTypeLowConfidence, Priority: models.PriorityLow,
			HallucinationRisk: models.RiskLow, OriginalData: []byte(`{}`),
			ReviewStatus: models.ReviewStatusRejected, CreatedAt: now, UpdatedAt: now,
		},
	})
	require.NoError(t, err)
	return itemID
}
