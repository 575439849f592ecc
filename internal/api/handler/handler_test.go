package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/api"
	"github.com/kiranshivaraju/trustgate/internal/api/handler"
	mw "github.com/kiranshivaraju/trustgate/internal/api/middleware"
	"github.com/kiranshivaraju/trustgate/internal/approval"
	"github.com/kiranshivaraju/trustgate/internal/patterns"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store"
	"github.com/kiranshivaraju/trustgate/internal/store/storetest"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var allScopes = []string{
	models.ScopeRead,
	models.ScopeIngest,
	models.ScopeReview,
	models.ScopeAdmin,
	models.ScopePatternsAdmin,
}

var gateDefaults = models.GatePolicy{AutoActivateThreshold: 0.8, BlockingThreshold: 0.5}

// ─── fakes ───────────────────────────────────────────────────────────────────

type memCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
	counters map[string]int64
}

func newMemCache() *memCache {
	return &memCache{statuses: map[uuid.UUID]string{}, counters: map[string]int64{}}
}

func (c *memCache) SetJobStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[id] = status
	return nil
}

func (c *memCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[id]
	return s, ok, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// flakyQueue fails Get while down is set.
type flakyQueue struct {
	*queue.MemoryQueue
	down bool
}

func (q *flakyQueue) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	if q.down {
		return nil, errors.New("connection refused")
	}
	return q.MemoryQueue.Get(ctx, id)
}

// ─── harness ─────────────────────────────────────────────────────────────────

type testServer struct {
	server   *httptest.Server
	st       *storetest.Memory
	queue    *flakyQueue
	cache    *memCache
	tenant   *models.Tenant
	patterns *patterns.Service
	rawKey   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	st := storetest.NewMemory()
	tenant, err := st.GetDefaultTenant(ctx)
	require.NoError(t, err)
	require.NoError(t, st.GrantApprover(ctx, tenant.ID, "l1-alice", 1))
	require.NoError(t, st.GrantApprover(ctx, tenant.ID, "l2-bob", 2))

	q := &flakyQueue{MemoryQueue: queue.NewMemoryQueue(queue.Options{MaxAttempts: 1})}
	mc := newMemCache()

	patternSvc := patterns.NewService(st, 3)
	reviews := review.NewService(st, patternSvc)
	workflow := approval.NewWorkflow(st, reviews, patternSvc)

	deps := api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(mc, 1000),

		ListReviewItems:    handler.NewListReviewItemsHandler(reviews),
		GetReviewItem:      handler.NewGetReviewItemHandler(reviews),
		ConfirmReviewItem:  handler.NewConfirmReviewItemHandler(reviews),
		RejectReviewItem:   handler.NewRejectReviewItemHandler(reviews),
		ResolveDispute:     handler.NewResolveDisputeHandler(reviews),
		GetApprovalStatus:  handler.NewGetApprovalWorkflowHandler(workflow),
		PostApprovalAction: handler.NewPostApprovalWorkflowHandler(workflow),

		ListSharedPatterns:   handler.NewListSharedPatternsHandler(patternSvc),
		PromotePattern:       handler.NewPromotePatternHandler(patternSvc),
		CandidateEligibility: handler.NewCandidateEligibilityHandler(patternSvc),
		ApproveCandidate:     handler.NewApproveCandidateHandler(patternSvc),

		ExtractDocument:    handler.NewExtractHandler(q, mc),
		DistributePack:     handler.NewDistributeHandler(q, mc),
		GetJob:             handler.NewGetJobHandler(q, mc),
		ExtractionComplete: handler.NewExtractionCompleteHandler(st),

		ListDeadLetters:  handler.NewListDeadLettersHandler(q),
		RetryDeadLetter:  handler.NewRetryDeadLetterHandler(q, mc),
		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
		GetGatePolicy:    handler.NewGetGatePolicyHandler(st, gateDefaults),
		UpdateGatePolicy: handler.NewUpdateGatePolicyHandler(st),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)

	ts := &testServer{server: srv, st: st, queue: q, cache: mc, tenant: tenant, patterns: patternSvc}
	ts.rawKey = ts.issueKey(t, tenant.ID, "tg_main_key_1234567890", allScopes...)
	return ts
}

func (ts *testServer) issueKey(t *testing.T, tenantID uuid.UUID, rawKey string, scopes ...string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)
	require.NoError(t, ts.st.CreateAPIKey(context.Background(), &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Name:      "test",
		KeyHash:   string(hash),
		KeyPrefix: rawKey[:8],
		Scopes:    scopes,
	}))
	return rawKey
}

func (ts *testServer) do(t *testing.T, method, path, actor string, body any) *http.Response {
	t.Helper()
	return ts.doWithKey(t, ts.rawKey, method, path, actor, body)
}

func (ts *testServer) doWithKey(t *testing.T, key, method, path, actor string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(mw.ActorHeader, actor)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func parseBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func data(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	return parseBody(t, resp)["data"].(map[string]any)
}

func errObj(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	return parseBody(t, resp)["error"].(map[string]any)
}

func (ts *testServer) seedItem(t *testing.T) uuid.UUID {
	t.Helper()
	now := time.Now().UTC()
	o := &models.Obligation{
		ID:           uuid.New(),
		TenantID:     ts.tenant.ID,
		DocumentID:   uuid.New(),
		SourceKey:    uuid.NewString(),
		Regulator:    "EPA",
		DocumentType: "PERMIT",
		Title:        "Monitor discharge",
		Text:         "The operator shall monitor discharge monthly.",
		Source:       models.SourceModelExtraction,
		Confidence:   0.6,
		Status:       models.ObligationStatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	oid := o.ID
	item := &models.ReviewQueueItem{
		ID:                uuid.New(),
		TenantID:          ts.tenant.ID,
		DocumentID:        o.DocumentID,
		ObligationID:      &oid,
		ReviewType:        models.ReviewTypeLowConfidence,
		IsBlocking:        true,
		Priority:          models.PriorityHigh,
		HallucinationRisk: models.RiskMedium,
		OriginalData:      []byte(`{}`),
		ReviewStatus:      models.ReviewStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := ts.st.RecordCandidate(context.Background(), store.CandidateRecord{Obligation: o, ReviewItem: item})
	require.NoError(t, err)
	return item.ID
}

// ─── review queue ────────────────────────────────────────────────────────────

func TestReviewQueue_ListAndConfirm(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "GET", "/api/v1/review-queue?blocking=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := parseBody(t, resp)
	assert.Len(t, body["data"].([]any), 1)
	assert.Equal(t, float64(1), body["meta"].(map[string]any)["total"])

	resp = ts.do(t, "POST", "/api/v1/review-queue/"+itemID.String()+"/confirm", "reviewer-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CONFIRMED", data(t, resp)["review_status"])

	resp = ts.do(t, "POST", "/api/v1/review-queue/"+itemID.String()+"/reject", "reviewer-2", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	e := errObj(t, resp)
	assert.Equal(t, "INVALID_STATE", e["code"])
	assert.Equal(t, "CONFIRMED", e["details"].(map[string]any)["current_state"])

	resp = ts.do(t, "GET", "/api/v1/review-queue", "", nil)
	assert.Empty(t, parseBody(t, resp)["data"])
}

func TestReviewQueue_ConfirmRequiresActor(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "POST", "/api/v1/review-queue/"+itemID.String()+"/confirm", "", nil)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", errObj(t, resp)["code"])
}

func TestReviewQueue_GetItem(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "GET", "/api/v1/review-queue/"+itemID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, itemID.String(), data(t, resp)["id"])

	resp = ts.do(t, "GET", "/api/v1/review-queue/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/review-queue/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewQueue_ResolveDisputeOnPendingItem(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "POST", "/api/v1/review-queue/"+itemID.String()+"/resolve-dispute", "reviewer-1", nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

// ─── approval workflow ───────────────────────────────────────────────────────

func TestApprovalWorkflow_TwoLevels(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "POST", "/api/v1/approval-workflow", "reviewer-1", map[string]any{
		"action": "escalate", "itemId": itemID, "reason": "ambiguous frequency",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "PENDING_L1", data(t, resp)["approval_state"])

	resp = ts.do(t, "POST", "/api/v1/approval-workflow", "l1-alice", map[string]any{
		"action": "approve", "itemId": itemID, "level": 1, "comment": "looks right",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/approval-workflow?pendingLevel2=true", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 1)

	resp = ts.do(t, "POST", "/api/v1/approval-workflow", "l2-bob", map[string]any{
		"action": "approve", "itemId": itemID, "level": 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "APPROVED", data(t, resp)["approval_state"])

	resp = ts.do(t, "GET", "/api/v1/approval-workflow?itemId="+itemID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := data(t, resp)
	assert.Len(t, status["records"].([]any), 2)
}

func TestApprovalWorkflow_Level2OnPendingItemIsStateError(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	resp := ts.do(t, "POST", "/api/v1/approval-workflow", "l2-bob", map[string]any{
		"action": "approve", "itemId": itemID, "level": 2,
	})

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "PENDING", errObj(t, resp)["details"].(map[string]any)["current_state"])
}

func TestApprovalWorkflow_UnauthorizedApprover(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)
	ts.do(t, "POST", "/api/v1/approval-workflow", "reviewer-1", map[string]any{
		"action": "escalate", "itemId": itemID, "reason": "unclear",
	})

	resp := ts.do(t, "POST", "/api/v1/approval-workflow", "l2-bob", map[string]any{
		"action": "approve", "itemId": itemID, "level": 1,
	})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestApprovalWorkflow_RequestValidation(t *testing.T) {
	ts := newTestServer(t)
	itemID := ts.seedItem(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown action", map[string]any{"action": "delegate", "itemId": itemID}},
		{"missing item", map[string]any{"action": "approve", "level": 1}},
		{"escalate without reason", map[string]any{"action": "escalate", "itemId": itemID}},
		{"approve without level", map[string]any{"action": "approve", "itemId": itemID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "POST", "/api/v1/approval-workflow", "l1-alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp := ts.do(t, "GET", "/api/v1/approval-workflow", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── patterns ────────────────────────────────────────────────────────────────

func TestSharedPatterns_PromoteFlow(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	c, err := ts.patterns.Nominate(ctx, patterns.Nomination{
		TenantID:     ts.tenant.ID,
		Regulator:    "EPA",
		DocumentType: "PERMIT",
		ClauseText:   "The permittee shall submit an annual report.",
	})
	require.NoError(t, err)

	resp := ts.do(t, "POST", "/api/v1/shared-patterns", "", map[string]any{"patternId": c.ID})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := errObj(t, resp)
	assert.Equal(t, "NOT_ELIGIBLE", e["code"])
	assert.Contains(t, e["details"].(map[string]any)["reason"], "more than 3 required")

	ts.st.SetOccurrenceCount(c.ID, 4)
	resp = ts.do(t, "GET", "/api/v1/pattern-candidates/"+c.ID.String()+"/eligibility", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, data(t, resp)["eligible"])

	resp = ts.do(t, "POST", "/api/v1/pattern-candidates/"+c.ID.String()+"/approve", "owner", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/shared-patterns", "", map[string]any{"patternId": c.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/shared-patterns", "", map[string]any{"patternId": c.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/shared-patterns?regulator=EPA&documentType=PERMIT", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 1)

	resp = ts.do(t, "GET", "/api/v1/shared-patterns?regulator=OSHA", "", nil)
	assert.Empty(t, parseBody(t, resp)["data"])
}

func TestSharedPatterns_PromoteRequiresPatternsAdmin(t *testing.T) {
	ts := newTestServer(t)
	key := ts.issueKey(t, ts.tenant.ID, "tg_read_key_1234567890", models.ScopeRead)

	resp := ts.doWithKey(t, key, "POST", "/api/v1/shared-patterns", "", map[string]any{"patternId": uuid.New()})

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// ─── jobs ────────────────────────────────────────────────────────────────────

func extractBody() map[string]any {
	return map[string]any{
		"document_id":   uuid.New(),
		"file_path":     "permits/acme.txt",
		"document_type": "PERMIT",
		"regulator":     "EPA",
		"priority":      5,
	}
}

func TestExtract_EnqueuesAndPolls(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/documents/extract", "", extractBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := data(t, resp)
	assert.Equal(t, "PENDING", job["status"])
	jobID := uuid.MustParse(job["job_id"].(string))

	status, found, _ := ts.cache.GetJobStatus(context.Background(), jobID)
	assert.True(t, found)
	assert.Equal(t, "PENDING", status)

	queued, err := ts.queue.Get(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, 5, queued.Priority)
	p, err := queue.DecodeExtraction(queued)
	require.NoError(t, err)
	assert.Equal(t, ts.tenant.ID, p.CompanyID)

	resp = ts.do(t, "GET", "/api/v1/jobs/"+jobID.String(), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "extraction", data(t, resp)["type"])
}

func TestExtract_Rejections(t *testing.T) {
	ts := newTestServer(t)

	missing := extractBody()
	delete(missing, "file_path")
	resp := ts.do(t, "POST", "/api/v1/documents/extract", "", missing)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	foreign := extractBody()
	foreign["company_id"] = uuid.New()
	resp = ts.do(t, "POST", "/api/v1/documents/extract", "", foreign)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	negative := extractBody()
	negative["priority"] = -1
	resp = ts.do(t, "POST", "/api/v1/documents/extract", "", negative)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDistribute_Enqueues(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/packs/distribute", "", map[string]any{
		"pack_id":             uuid.New(),
		"distribution_method": "EMAIL",
		"recipients":          []string{"inspector@example.com"},
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "distribution", data(t, resp)["type"])

	resp = ts.do(t, "POST", "/api/v1/packs/distribute", "", map[string]any{
		"pack_id":             uuid.New(),
		"distribution_method": "FAX",
		"recipients":          []string{"inspector@example.com"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetJob_OtherTenantIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	other := ts.st.AddTenant("globex")
	otherKey := ts.issueKey(t, other.ID, "tg_globex_1234567890", models.ScopeRead)

	resp := ts.do(t, "POST", "/api/v1/documents/extract", "", extractBody())
	jobID := data(t, resp)["job_id"].(string)

	resp = ts.doWithKey(t, otherKey, "GET", "/api/v1/jobs/"+jobID, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJob_FallsBackToCachedStatus(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, "POST", "/api/v1/documents/extract", "", extractBody())
	jobID := data(t, resp)["job_id"].(string)

	ts.queue.down = true
	resp = ts.do(t, "GET", "/api/v1/jobs/"+jobID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := data(t, resp)
	assert.Equal(t, "PENDING", view["status"])
	assert.Equal(t, true, view["cached"])

	resp = ts.do(t, "GET", "/api/v1/jobs/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestDeadLetters_ListAndRetry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	resp := ts.do(t, "POST", "/api/v1/documents/extract", "", extractBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job, err := ts.queue.Dequeue(ctx, models.JobTypeExtraction, "worker-1")
	require.NoError(t, err)
	res, err := ts.queue.Fail(ctx, job.ID, "worker-1", errors.New("records layer timeout"))
	require.NoError(t, err)
	require.True(t, res.Dead())

	resp = ts.do(t, "GET", "/api/v1/jobs/dead-letters?type=extraction", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	letters := parseBody(t, resp)["data"].([]any)
	require.Len(t, letters, 1)
	dl := letters[0].(map[string]any)
	assert.Equal(t, "records layer timeout", dl["final_error"])

	resp = ts.do(t, "POST", "/api/v1/jobs/dead-letters/"+dl["id"].(string)+"/retry", "", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "PENDING", data(t, resp)["status"])

	resp = ts.do(t, "GET", "/api/v1/jobs/dead-letters", "", nil)
	assert.Empty(t, parseBody(t, resp)["data"])

	resp = ts.do(t, "POST", "/api/v1/jobs/dead-letters/"+uuid.NewString()+"/retry", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/jobs/dead-letters?type=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ─── webhook ─────────────────────────────────────────────────────────────────

func TestExtractionComplete_IdempotentRepeat(t *testing.T) {
	ts := newTestServer(t)
	body := map[string]any{
		"document_id":       uuid.New(),
		"extraction_status": "COMPLETED",
		"obligation_count":  4,
	}

	resp := ts.do(t, "POST", "/api/v1/webhooks/extraction-complete", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, data(t, resp)["duplicate"])

	resp = ts.do(t, "POST", "/api/v1/webhooks/extraction-complete", "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, data(t, resp)["duplicate"])

	body["extraction_status"] = "UNKNOWN"
	resp = ts.do(t, "POST", "/api/v1/webhooks/extraction-complete", "", body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExtractionComplete_OtherTenantCannotOverwrite(t *testing.T) {
	ts := newTestServer(t)
	other := ts.st.AddTenant("globex")
	otherKey := ts.issueKey(t, other.ID, "tg_globex_1234567890", models.ScopeIngest)
	docID := uuid.New()

	resp := ts.do(t, "POST", "/api/v1/webhooks/extraction-complete", "", map[string]any{
		"document_id": docID, "extraction_status": "COMPLETED", "obligation_count": 4,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.doWithKey(t, otherKey, "POST", "/api/v1/webhooks/extraction-complete", "", map[string]any{
		"document_id": docID, "extraction_status": "FAILED", "error_message": "overwritten",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	got, ok := ts.st.Completion(docID)
	require.True(t, ok)
	assert.Equal(t, ts.tenant.ID, got.TenantID)
	assert.Equal(t, models.ExtractionStatusCompleted, got.ExtractionStatus)
}

// ─── admin ───────────────────────────────────────────────────────────────────

func TestGatePolicy_GetAndUpdate(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/api/v1/admin/gate-policy", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0.8, data(t, resp)["auto_activate_threshold"])

	resp = ts.do(t, "PUT", "/api/v1/admin/gate-policy", "", map[string]any{
		"auto_activate_threshold": 0.6, "blocking_threshold": 0.7,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, "PUT", "/api/v1/admin/gate-policy", "", map[string]any{
		"auto_activate_threshold": 0.9, "blocking_threshold": 0.4, "subjective_blocking": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	tenant, err := ts.st.GetTenant(context.Background(), ts.tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GatePolicy{AutoActivateThreshold: 0.9, BlockingThreshold: 0.4, SubjectiveBlocking: true}, tenant.Policy)
}

func TestAPIKeys_CreateUseRevoke(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "POST", "/api/v1/admin/keys", "", map[string]any{
		"name": "records-layer", "scopes": []string{"read", "ingest"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := data(t, resp)
	rawKey := created["key"].(string)
	assert.True(t, len(rawKey) > 8)
	assert.Equal(t, rawKey[:8], created["key_prefix"])

	resp = ts.doWithKey(t, rawKey, "GET", "/api/v1/shared-patterns", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, "GET", "/api/v1/admin/keys", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, parseBody(t, resp)["data"].([]any), 2)

	resp = ts.do(t, "DELETE", "/api/v1/admin/keys/"+created["id"].(string), "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.doWithKey(t, rawKey, "GET", "/api/v1/shared-patterns", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, "POST", "/api/v1/admin/keys", "", map[string]any{
		"name": "bad", "scopes": []string{"superuser"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
