package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

type approvalKey struct {
	itemID uuid.UUID
	level  int
}

type grantKey struct {
	tenantID uuid.UUID
	userID   string
	level    int
}

type patternKey struct {
	regulator    string
	documentType string
	fingerprint  string
}

type occurrenceKey struct {
	patternKey
	tenantID uuid.UUID
}

// Memory is an in-memory store.Store with the same compare-and-set semantics as
// the Postgres implementation. Safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	defaultID   uuid.UUID
	tenants     map[uuid.UUID]*models.Tenant
	apiKeys     map[uuid.UUID]*models.APIKey
	obligations map[uuid.UUID]*models.Obligation
	items       map[uuid.UUID]*models.ReviewQueueItem
	approvals   map[approvalKey]*models.ApprovalRecord
	grants      map[grantKey]bool
	candidates  map[uuid.UUID]*models.PatternCandidate
	shared      map[uuid.UUID]*models.SharedPattern
	occurrences map[occurrenceKey]bool
	completions map[uuid.UUID]*models.ExtractionCompletion

	// PingErr, when set, is returned by Ping.
	PingErr error
}

// NewMemory returns an empty store seeded with the default tenant.
func NewMemory() *Memory {
	now := time.Now().UTC()
	m := &Memory{
		defaultID:   uuid.New(),
		tenants:     make(map[uuid.UUID]*models.Tenant),
		apiKeys:     make(map[uuid.UUID]*models.APIKey),
		obligations: make(map[uuid.UUID]*models.Obligation),
		items:       make(map[uuid.UUID]*models.ReviewQueueItem),
		approvals:   make(map[approvalKey]*models.ApprovalRecord),
		grants:      make(map[grantKey]bool),
		candidates:  make(map[uuid.UUID]*models.PatternCandidate),
		shared:      make(map[uuid.UUID]*models.SharedPattern),
		occurrences: make(map[occurrenceKey]bool),
		completions: make(map[uuid.UUID]*models.ExtractionCompletion),
	}
	m.tenants[m.defaultID] = &models.Tenant{
		ID:        m.defaultID,
		Name:      "default",
		Policy:    models.GatePolicy{AutoActivateThreshold: 0.8, BlockingThreshold: 0.5},
		CreatedAt: now,
		UpdatedAt: now,
	}
	return m
}

// AddTenant creates a tenant with the default gate policy.
func (m *Memory) AddTenant(name string) *models.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	t := &models.Tenant{
		ID:        uuid.New(),
		Name:      name,
		Policy:    models.GatePolicy{AutoActivateThreshold: 0.8, BlockingThreshold: 0.5},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.tenants[t.ID] = t
	cp := *t
	return &cp
}

// Obligations returns every stored obligation for a document.
func (m *Memory) Obligations(documentID uuid.UUID) []*models.Obligation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Obligation
	for _, o := range m.obligations {
		if o.DocumentID == documentID {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ReviewItems returns every review item for a document.
func (m *Memory) ReviewItems(documentID uuid.UUID) []*models.ReviewQueueItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewQueueItem
	for _, it := range m.items {
		if it.DocumentID == documentID {
			cp := *it
			out = append(out, &cp)
		}
	}
	return out
}

// Completion returns the recorded completion for a document, if any.
func (m *Memory) Completion(documentID uuid.UUID) (*models.ExtractionCompletion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.completions[documentID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// SharedCount returns the number of shared patterns.
func (m *Memory) SharedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shared)
}

func (m *Memory) Ping(_ context.Context) error { return m.PingErr }

// --- Tenants ---

func (m *Memory) GetDefaultTenant(ctx context.Context) (*models.Tenant, error) {
	return m.GetTenant(ctx, m.defaultID)
}

func (m *Memory) GetTenant(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateGatePolicy(_ context.Context, tenantID uuid.UUID, policy models.GatePolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	t.Policy = policy
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// --- API keys ---

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.apiKeys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
	}
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.apiKeys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *key
	m.apiKeys[key.ID] = &cp
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.apiKeys {
		if k.TenantID == tenantID && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.apiKeys[id]
	if !ok || k.TenantID != tenantID || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Obligations and review ---

func (m *Memory) RecordCandidate(_ context.Context, rec store.CandidateRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := rec.Obligation
	for _, existing := range m.obligations {
		if existing.DocumentID == o.DocumentID && existing.SourceKey == o.SourceKey {
			return false, nil
		}
	}
	cp := *o
	if cp.RawFields == nil {
		cp.RawFields = map[string]string{}
	}
	m.obligations[o.ID] = &cp
	if rec.ReviewItem != nil {
		it := *rec.ReviewItem
		m.items[it.ID] = &it
	}
	return true, nil
}

func (m *Memory) GetObligation(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Obligation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.obligations[id]
	if !ok || o.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *Memory) GetReviewItem(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

var priorityRank = map[models.Priority]int{models.PriorityHigh: 0, models.PriorityMedium: 1, models.PriorityLow: 2}

func (m *Memory) ListReviewItems(_ context.Context, f store.ReviewFilter) ([]*models.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ReviewQueueItem
	for _, it := range m.items {
		if it.TenantID != f.TenantID {
			continue
		}
		if f.Status != "" && it.ReviewStatus != f.Status {
			continue
		}
		if f.ApprovalState != "" && (it.ApprovalState == nil || *it.ApprovalState != f.ApprovalState) {
			continue
		}
		if f.BlockingOnly && !it.IsBlocking {
			continue
		}
		cp := *it
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if priorityRank[out[i].Priority] != priorityRank[out[j].Priority] {
			return priorityRank[out[i].Priority] < priorityRank[out[j].Priority]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) TransitionReviewItem(_ context.Context, t store.ReviewTransition) (*models.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[t.ItemID]
	if !ok || it.TenantID != t.TenantID {
		return nil, store.ErrNotFound
	}
	if it.ReviewStatus != t.From {
		return nil, store.ErrStateConflict
	}
	if t.OpenApprovalLevel > 0 {
		if _, exists := m.approvals[approvalKey{t.ItemID, t.OpenApprovalLevel}]; exists {
			return nil, store.ErrStateConflict
		}
	}

	now := time.Now().UTC()
	actor := t.ActorID
	it.ReviewStatus = t.To
	it.ReviewedBy = &actor
	it.ReviewedAt = &now
	if t.EscalationReason != nil {
		reason := *t.EscalationReason
		it.EscalationReason = &reason
	}
	if t.ApprovalState != nil {
		st := *t.ApprovalState
		it.ApprovalState = &st
	}
	it.UpdatedAt = now

	if t.ObligationStatus != nil && it.ObligationID != nil {
		m.setObligationStatus(*it.ObligationID, *t.ObligationStatus)
	}
	if t.OpenApprovalLevel > 0 {
		m.openApproval(t.ItemID, t.OpenApprovalLevel)
	}
	cp := *it
	return &cp, nil
}

func (m *Memory) ResolveDispute(_ context.Context, id uuid.UUID, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.TenantID != tenantID {
		return store.ErrNotFound
	}
	if it.ReviewStatus != models.ReviewStatusRejected || it.PatternID == nil {
		return store.ErrStateConflict
	}
	it.DisputeResolved = true
	return nil
}

func (m *Memory) CountUnresolvedDisputes(_ context.Context, patternID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, it := range m.items {
		if it.PatternID != nil && *it.PatternID == patternID &&
			it.ReviewStatus == models.ReviewStatusRejected && !it.DisputeResolved {
			n++
		}
	}
	return n, nil
}

// --- Approvals ---

func (m *Memory) ListApprovalRecords(_ context.Context, itemID uuid.UUID) ([]*models.ApprovalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ApprovalRecord
	for key, r := range m.approvals {
		if key.itemID == itemID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (m *Memory) DecideApproval(_ context.Context, t store.ApprovalTransition) (*models.ReviewQueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[t.ItemID]
	if !ok || it.TenantID != t.TenantID {
		return nil, store.ErrNotFound
	}
	if it.ReviewStatus != models.ReviewStatusEscalated || it.ApprovalState == nil || *it.ApprovalState != t.From {
		return nil, store.ErrStateConflict
	}
	rec, ok := m.approvals[approvalKey{t.ItemID, t.Level}]
	if !ok || rec.Decision != models.DecisionPending {
		return nil, store.ErrStateConflict
	}
	if t.OpenApprovalLevel > 0 {
		if _, exists := m.approvals[approvalKey{t.ItemID, t.OpenApprovalLevel}]; exists {
			return nil, store.ErrStateConflict
		}
	}

	now := time.Now().UTC()
	approver := t.ApproverID
	rec.Decision = t.Decision
	rec.ApproverID = &approver
	rec.Comment = t.Comment
	rec.DecidedAt = &now

	to := t.To
	it.ApprovalState = &to
	it.UpdatedAt = now

	if t.OpenApprovalLevel > 0 {
		m.openApproval(t.ItemID, t.OpenApprovalLevel)
	}
	if t.ObligationStatus != nil && it.ObligationID != nil {
		m.setObligationStatus(*it.ObligationID, *t.ObligationStatus)
	}
	cp := *it
	return &cp, nil
}

func (m *Memory) CanApprove(_ context.Context, tenantID uuid.UUID, userID string, level int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[grantKey{tenantID, userID, level}], nil
}

func (m *Memory) GrantApprover(_ context.Context, tenantID uuid.UUID, userID string, level int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[grantKey{tenantID, userID, level}] = true
	return nil
}

// --- Patterns ---

func (m *Memory) NominatePattern(_ context.Context, c *models.PatternCandidate) (*models.PatternCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := patternKey{c.Regulator, c.DocumentType, c.Fingerprint}
	m.occurrences[occurrenceKey{pk, c.TenantID}] = true

	count := 0
	for k := range m.occurrences {
		if k.patternKey == pk {
			count++
		}
	}

	var result *models.PatternCandidate
	for _, existing := range m.candidates {
		if existing.TenantID == c.TenantID && existing.Regulator == c.Regulator &&
			existing.DocumentType == c.DocumentType && existing.Fingerprint == c.Fingerprint {
			result = existing
		}
	}
	if result == nil {
		cp := *c
		cp.Scope = models.ScopeTenant
		cp.PatternBody = append(json.RawMessage(nil), c.PatternBody...)
		m.candidates[cp.ID] = &cp
		result = &cp
	}

	now := time.Now().UTC()
	for _, existing := range m.candidates {
		if existing.Regulator == c.Regulator && existing.DocumentType == c.DocumentType &&
			existing.Fingerprint == c.Fingerprint {
			existing.OccurrenceCount = count
			existing.UpdatedAt = now
		}
	}
	cp := *result
	return &cp, nil
}

func (m *Memory) GetPatternCandidate(_ context.Context, id uuid.UUID) (*models.PatternCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ApprovePatternCandidate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[id]
	if !ok {
		return store.ErrNotFound
	}
	c.OwnerApproved = true
	return nil
}

// Candidates returns every pattern candidate of a tenant, approved or not.
func (m *Memory) Candidates(tenantID uuid.UUID) []*models.PatternCandidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PatternCandidate
	for _, c := range m.candidates {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// SetOccurrenceCount overrides a candidate's occurrence count.
func (m *Memory) SetOccurrenceCount(id uuid.UUID, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.candidates[id]; ok {
		c.OccurrenceCount = n
	}
}

func (m *Memory) ListTenantPatterns(_ context.Context, tenantID uuid.UUID, regulator, documentType string) ([]*models.PatternCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PatternCandidate
	for _, c := range m.candidates {
		if c.TenantID == tenantID && c.Regulator == regulator && c.DocumentType == documentType && c.OwnerApproved {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OccurrenceCount != out[j].OccurrenceCount {
			return out[i].OccurrenceCount > out[j].OccurrenceCount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) PromotePattern(_ context.Context, candidateID uuid.UUID) (*models.SharedPattern, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.candidates[candidateID]
	if !ok {
		return nil, false, store.ErrNotFound
	}

	var shared *models.SharedPattern
	for _, s := range m.shared {
		if s.Regulator == c.Regulator && s.DocumentType == c.DocumentType && s.Fingerprint == c.Fingerprint {
			shared = s
		}
	}

	created := false
	if shared == nil {
		shared = &models.SharedPattern{
			ID:                uuid.New(),
			Regulator:         c.Regulator,
			DocumentType:      c.DocumentType,
			PatternBody:       append(json.RawMessage(nil), c.PatternBody...),
			Fingerprint:       c.Fingerprint,
			OccurrenceCount:   c.OccurrenceCount,
			SourceCandidateID: c.ID,
			CreatedAt:         time.Now().UTC(),
		}
		m.shared[shared.ID] = shared
		created = true
	}

	id := shared.ID
	c.Scope = models.ScopeGlobal
	c.SharedPatternID = &id
	cp := *shared
	return &cp, created, nil
}

func (m *Memory) GetSharedPattern(_ context.Context, id uuid.UUID) (*models.SharedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shared[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSharedPatterns(_ context.Context, regulator, documentType string) ([]*models.SharedPattern, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SharedPattern
	for _, s := range m.shared {
		if (regulator == "" || s.Regulator == regulator) && (documentType == "" || s.DocumentType == documentType) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// --- Completions ---

func (m *Memory) RecordExtractionCompletion(_ context.Context, c *models.ExtractionCompletion) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	existing, ok := m.completions[c.DocumentID]
	if ok && existing.TenantID != c.TenantID {
		return false, store.ErrNotFound
	}
	if ok && existing.ExtractionStatus == c.ExtractionStatus &&
		equalIntPtr(existing.ObligationCount, c.ObligationCount) &&
		equalStringPtr(existing.ErrorMessage, c.ErrorMessage) {
		return false, nil
	}
	cp := *c
	cp.UpdatedAt = now
	if ok {
		cp.ReceivedAt = existing.ReceivedAt
	} else {
		cp.ReceivedAt = now
	}
	m.completions[c.DocumentID] = &cp
	return true, nil
}

func (m *Memory) setObligationStatus(id uuid.UUID, status models.ObligationStatus) {
	if o, ok := m.obligations[id]; ok {
		o.Status = status
		o.UpdatedAt = time.Now().UTC()
	}
}

func (m *Memory) openApproval(itemID uuid.UUID, level int) {
	m.approvals[approvalKey{itemID, level}] = &models.ApprovalRecord{
		ItemID:    itemID,
		Level:     level,
		Decision:  models.DecisionPending,
		CreatedAt: time.Now().UTC(),
	}
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Compile-time check that Memory implements store.Store.
var _ store.Store = (*Memory)(nil)
