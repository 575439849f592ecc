package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/internal/extraction"
	"github.com/kiranshivaraju/trustgate/internal/extractor/mock"
	"github.com/kiranshivaraju/trustgate/internal/patterns"
	"github.com/kiranshivaraju/trustgate/internal/pipeline"
	"github.com/kiranshivaraju/trustgate/internal/queue"
	"github.com/kiranshivaraju/trustgate/internal/records"
	"github.com/kiranshivaraju/trustgate/internal/review"
	"github.com/kiranshivaraju/trustgate/internal/store/storetest"
	"github.com/kiranshivaraju/trustgate/internal/worker"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu          sync.Mutex
	completions []records.Completion
	err         error
}

func (n *recordingNotifier) NotifyCompletion(_ context.Context, c records.Completion) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.completions = append(n.completions, c)
	return nil
}

func (n *recordingNotifier) all() []records.Completion {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]records.Completion, len(n.completions))
	copy(out, n.completions)
	return out
}

type recordingObserver struct {
	mu    sync.Mutex
	paths []bool
	gates []string
}

func (o *recordingObserver) ObserveExtraction(usedModel bool, _ string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, usedModel)
}

func (o *recordingObserver) ObserveGate(action, _ string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gates = append(o.gates, action)
}

type harness struct {
	st       *storetest.Memory
	tenant   *models.Tenant
	root     string
	notifier *recordingNotifier
	provider *mock.MockProvider
	handler  *pipeline.ExtractionHandler
}

func newHarness(t *testing.T, provider *mock.MockProvider) *harness {
	t.Helper()
	st := storetest.NewMemory()
	h := &harness{
		st:       st,
		tenant:   st.AddTenant("acme"),
		root:     t.TempDir(),
		notifier: &recordingNotifier{},
		provider: provider,
	}
	engine := extraction.NewEngine(st, provider, config.ExtractionConfig{})
	h.handler = pipeline.NewExtractionHandler(st, pipeline.FileLoader{Root: h.root}, engine, h.notifier, nil)
	return h
}

// job writes text as a document and returns an extraction job for it.
func (h *harness) job(t *testing.T, text string) (*models.Job, uuid.UUID) {
	t.Helper()
	docID := uuid.New()
	rel := filepath.Join("permits", docID.String()+".txt")
	require.NoError(t, os.MkdirAll(filepath.Join(h.root, "permits"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(h.root, rel), []byte(text), 0o600))

	raw, err := queue.EncodePayload(models.JobTypeExtraction, queue.ExtractionPayload{
		DocumentID:   docID,
		CompanyID:    h.tenant.ID,
		FilePath:     rel,
		DocumentType: "PERMIT",
		Regulator:    "EPA",
	})
	require.NoError(t, err)
	return &models.Job{ID: uuid.New(), Type: models.JobTypeExtraction, Payload: raw}, docID
}

func TestExtraction_ClearModelCandidateAutoActivates(t *testing.T) {
	provider := mock.NewStaticProvider(models.ExtractedObligation{
		Text:       "The operator shall monitor discharge monthly.",
		Fields:     map[string]string{"frequency": "monthly"},
		Confidence: 0.95,
	})
	h := newHarness(t, provider)
	job, docID := h.job(t, "Section 1. The operator shall monitor discharge monthly.")

	sum, err := h.handler.Process(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, sum.UsedModel)
	assert.Equal(t, 1, sum.AutoActivated)
	assert.Zero(t, sum.Reviewed)

	obligations := h.st.Obligations(docID)
	require.Len(t, obligations, 1)
	assert.Equal(t, models.ObligationStatusPending, obligations[0].Status)
	assert.Equal(t, models.SourceModelExtraction, obligations[0].Source)
	assert.Equal(t, "monthly", obligations[0].RawFields["frequency"])
	assert.Empty(t, h.st.ReviewItems(docID))

	completions := h.notifier.all()
	require.Len(t, completions, 1)
	assert.Equal(t, docID, completions[0].DocumentID)
	assert.Equal(t, models.ExtractionStatusCompleted, completions[0].ExtractionStatus)
	require.NotNil(t, completions[0].ObligationCount)
	assert.Equal(t, 1, *completions[0].ObligationCount)
}

func TestExtraction_SubjectiveCandidateIsReviewed(t *testing.T) {
	provider := mock.NewStaticProvider(models.ExtractedObligation{
		Text:       "The operator shall take measures as appropriate.",
		Confidence: 0.95,
	})
	h := newHarness(t, provider)
	job, docID := h.job(t, "The operator shall take measures as appropriate.")

	sum, err := h.handler.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Reviewed)

	obligations := h.st.Obligations(docID)
	require.Len(t, obligations, 1)
	assert.Equal(t, models.ObligationStatusDraft, obligations[0].Status)

	items := h.st.ReviewItems(docID)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, models.ReviewTypeSubjectiveLanguage, item.ReviewType)
	assert.Equal(t, models.ReviewStatusPending, item.ReviewStatus)
	assert.False(t, item.IsBlocking)
	assert.Equal(t, models.PriorityMedium, item.Priority)
	require.NotNil(t, item.ObligationID)
	assert.Equal(t, obligations[0].ID, *item.ObligationID)
	assert.Contains(t, string(item.OriginalData), "as appropriate")
}

func TestExtraction_ApprovedClauseIsReusedAsPattern(t *testing.T) {
	provider := mock.NewMockProvider()
	h := newHarness(t, provider)
	ctx := context.Background()
	patternSvc := patterns.NewService(h.st, 3)
	reviews := review.NewService(h.st, patternSvc)

	job, docID := h.job(t, "The operator shall retain records as appropriate.")
	_, err := h.handler.Process(ctx, job)
	require.NoError(t, err)
	items := h.st.ReviewItems(docID)
	require.Len(t, items, 1)
	_, err = reviews.Confirm(ctx, h.tenant.ID, items[0].ID, "reviewer-1")
	require.NoError(t, err)
	require.Len(t, provider.Calls(), 1)

	candidates := h.st.Candidates(h.tenant.ID)
	require.Len(t, candidates, 1)
	assert.False(t, candidates[0].OwnerApproved)

	unapproved, _ := h.job(t, "Permit terms. The operator shall retain records as appropriate.")
	sum, err := h.handler.Process(ctx, unapproved)
	require.NoError(t, err)
	assert.True(t, sum.UsedModel, "confirmed but unapproved clause is not reused")
	require.Len(t, provider.Calls(), 2)

	_, err = patternSvc.ApproveCandidate(ctx, h.tenant.ID, candidates[0].ID)
	require.NoError(t, err)

	next, nextDoc := h.job(t, "Permit terms. The operator shall retain records as appropriate.")
	sum, err = h.handler.Process(ctx, next)
	require.NoError(t, err)
	assert.False(t, sum.UsedModel)
	assert.Len(t, provider.Calls(), 2, "pattern match skips the extraction service")

	obligations := h.st.Obligations(nextDoc)
	require.Len(t, obligations, 1)
	assert.Equal(t, models.SourcePatternMatch, obligations[0].Source)
	nextItems := h.st.ReviewItems(nextDoc)
	require.Len(t, nextItems, 1, "subjective pattern match is still reviewed")
	assert.NotNil(t, nextItems[0].PatternID)
}

func TestExtraction_PatternDoesNotDropOtherClauses(t *testing.T) {
	provider := mock.NewMockProvider()
	h := newHarness(t, provider)
	ctx := context.Background()
	patternSvc := patterns.NewService(h.st, 3)

	cand, err := patternSvc.NominateObligation(ctx, &models.Obligation{
		TenantID:     h.tenant.ID,
		Regulator:    "EPA",
		DocumentType: "PERMIT",
		Text:         "The operator shall monitor discharge monthly.",
	})
	require.NoError(t, err)
	_, err = patternSvc.ApproveCandidate(ctx, h.tenant.ID, cand.ID)
	require.NoError(t, err)

	job, docID := h.job(t, "The operator shall monitor discharge monthly. Records shall be kept for five years. "+
		"The operator must report spills within 24 hours.")
	sum, err := h.handler.Process(ctx, job)
	require.NoError(t, err)

	assert.True(t, sum.UsedModel)
	assert.Equal(t, 3, sum.Candidates)
	assert.Len(t, provider.Calls(), 1)
	assert.Len(t, h.st.Obligations(docID), 3)

	completions := h.notifier.all()
	require.Len(t, completions, 1)
	require.NotNil(t, completions[0].ObligationCount)
	assert.Equal(t, 3, *completions[0].ObligationCount)
}

func TestExtraction_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t, mock.NewMockProvider())
	job, docID := h.job(t, "The permittee must sample weekly. The permittee shall report exceedances.")
	ctx := context.Background()

	first, err := h.handler.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Candidates)

	second, err := h.handler.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Existing)

	assert.Len(t, h.st.Obligations(docID), 2)
	assert.Len(t, h.notifier.all(), 2)
}

func TestExtraction_Failures(t *testing.T) {
	t.Run("missing document is permanent", func(t *testing.T) {
		h := newHarness(t, mock.NewMockProvider())
		job, _ := h.job(t, "The operator shall monitor.")
		require.NoError(t, os.RemoveAll(filepath.Join(h.root, "permits")))

		err := h.handler.Handle(context.Background(), job)
		require.Error(t, err)
		assert.False(t, apperr.Retryable(err))
		assert.Empty(t, h.notifier.all())
	})

	t.Run("unknown tenant is permanent", func(t *testing.T) {
		h := newHarness(t, mock.NewMockProvider())
		raw, err := queue.EncodePayload(models.JobTypeExtraction, queue.ExtractionPayload{
			DocumentID:   uuid.New(),
			CompanyID:    uuid.New(),
			FilePath:     "permits/x.txt",
			DocumentType: "PERMIT",
		})
		require.NoError(t, err)

		err = h.handler.Handle(context.Background(), &models.Job{ID: uuid.New(), Type: models.JobTypeExtraction, Payload: raw})
		require.Error(t, err)
		assert.False(t, apperr.Retryable(err))
	})

	t.Run("wrong payload shape is permanent", func(t *testing.T) {
		h := newHarness(t, mock.NewMockProvider())
		err := h.handler.Handle(context.Background(), &models.Job{
			ID:      uuid.New(),
			Type:    models.JobTypeExtraction,
			Payload: []byte(`{"pack_id":"x"}`),
		})
		require.Error(t, err)
		assert.False(t, apperr.Retryable(err))
	})

	t.Run("transient extraction failure leaves nothing behind", func(t *testing.T) {
		h := newHarness(t, mock.NewFailingProvider(apperr.Transient(errors.New("503"), "extraction service unavailable")))
		job, docID := h.job(t, "The operator shall monitor.")

		err := h.handler.Handle(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperr.Retryable(err))
		assert.Empty(t, h.st.Obligations(docID))
		assert.Empty(t, h.notifier.all())
	})

	t.Run("callback failure retries", func(t *testing.T) {
		h := newHarness(t, mock.NewMockProvider())
		h.notifier.err = apperr.Transient(errors.New("connection refused"), "records layer unreachable")
		job, docID := h.job(t, "The operator shall monitor.")

		err := h.handler.Handle(context.Background(), job)
		require.Error(t, err)
		assert.True(t, apperr.Retryable(err))
		assert.Len(t, h.st.Obligations(docID), 1)
	})
}

func TestExtraction_ReportsToObserver(t *testing.T) {
	st := storetest.NewMemory()
	tenant := st.AddTenant("acme")
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("The operator shall monitor. The operator must report."), 0o600))
	obs := &recordingObserver{}
	engine := extraction.NewEngine(st, mock.NewMockProvider(), config.ExtractionConfig{})
	h := pipeline.NewExtractionHandler(st, pipeline.FileLoader{Root: root}, engine, &recordingNotifier{}, obs)

	raw, err := queue.EncodePayload(models.JobTypeExtraction, queue.ExtractionPayload{
		DocumentID:   uuid.New(),
		CompanyID:    tenant.ID,
		FilePath:     "doc.txt",
		DocumentType: "PERMIT",
	})
	require.NoError(t, err)
	require.NoError(t, h.Handle(context.Background(), &models.Job{ID: uuid.New(), Type: models.JobTypeExtraction, Payload: raw}))

	assert.Equal(t, []bool{true}, obs.paths)
	assert.Equal(t, []string{"AUTO_ACTIVATE", "AUTO_ACTIVATE"}, obs.gates)
}

func TestDeadExtractionReportsFailedCompletion(t *testing.T) {
	h := newHarness(t, mock.NewFailingProvider(apperr.Transient(errors.New("timeout"), "extraction timed out after 30s")))
	q := queue.NewMemoryQueue(queue.Options{
		MaxAttempts: 2,
		Backoff:     queue.Backoff{Base: time.Millisecond, Max: time.Millisecond},
	})
	pool := worker.NewPool(worker.PoolConfig{
		Type:         models.JobTypeExtraction,
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		WorkerID:     "test",
	}, q, h.handler, nil, pipeline.NewFailureReporter(h.notifier))

	job, docID := h.job(t, "The operator shall monitor.")
	_, err := q.Enqueue(context.Background(), models.JobTypeExtraction, job.Payload, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		pool.Wait()
	})

	require.Eventually(t, func() bool { return len(h.notifier.all()) == 1 }, 5*time.Second, 10*time.Millisecond)
	c := h.notifier.all()[0]
	assert.Equal(t, docID, c.DocumentID)
	assert.Equal(t, models.ExtractionStatusFailed, c.ExtractionStatus)
	assert.Nil(t, c.ObligationCount)
	require.NotNil(t, c.ErrorMessage)
	assert.Contains(t, *c.ErrorMessage, "extraction timed out after 30s")

	dead, err := q.ListDeadLetters(context.Background(), models.JobTypeExtraction, 0)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, dead[0].FinalError, *c.ErrorMessage)
}

func TestFailureReporter_IgnoresOtherEvents(t *testing.T) {
	n := &recordingNotifier{}
	r := pipeline.NewFailureReporter(n)

	r.OnEvent(context.Background(), worker.Event{Type: models.JobTypeExtraction, Outcome: worker.OutcomeRetried})
	r.OnEvent(context.Background(), worker.Event{Type: models.JobTypeDistribution, Outcome: worker.OutcomeDead,
		DeadLetter: &models.DeadLetter{Payload: []byte(`{}`), FinalError: "boom"}})
	r.OnEvent(context.Background(), worker.Event{Type: models.JobTypeExtraction, Outcome: worker.OutcomeDead,
		DeadLetter: &models.DeadLetter{Payload: []byte(`not json`), FinalError: "boom"}})

	assert.Empty(t, n.all())
}

func TestFileLoader_RejectsEscapes(t *testing.T) {
	l := pipeline.FileLoader{Root: t.TempDir()}
	for _, p := range []string{"../etc/passwd", "a/../../b", "", "/"} {
		_, err := l.Load(context.Background(), p)
		require.Error(t, err, p)
		assert.False(t, apperr.Retryable(err), p)
	}
}

func TestFileLoader_LeadingSlashIsRelative(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc.txt"), []byte("text"), 0o600))

	got, err := pipeline.FileLoader{Root: root}.Load(context.Background(), "/doc.txt")
	require.NoError(t, err)
	assert.Equal(t, "text", got)
}

type recordingDistributor struct {
	got []records.Distribution
	err error
}

func (d *recordingDistributor) DistributePack(_ context.Context, dist records.Distribution) error {
	d.got = append(d.got, dist)
	return d.err
}

func TestDistributionHandler(t *testing.T) {
	d := &recordingDistributor{}
	h := pipeline.NewDistributionHandler(d)
	packID := uuid.New()
	raw, err := queue.EncodePayload(models.JobTypeDistribution, queue.DistributionPayload{
		PackID:             packID,
		CompanyID:          uuid.New(),
		DistributionMethod: "EMAIL",
		Recipients:         []string{"inspector@example.com"},
		Message:            "Q3 pack",
	})
	require.NoError(t, err)

	require.NoError(t, h.Handle(context.Background(), &models.Job{ID: uuid.New(), Type: models.JobTypeDistribution, Payload: raw}))
	require.Len(t, d.got, 1)
	assert.Equal(t, packID, d.got[0].PackID)
	assert.Equal(t, "EMAIL", d.got[0].Method)

	d.err = apperr.Transient(errors.New("502"), "records layer unavailable")
	err = h.Handle(context.Background(), &models.Job{ID: uuid.New(), Type: models.JobTypeDistribution, Payload: raw})
	assert.True(t, apperr.Retryable(err))
}
