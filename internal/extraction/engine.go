// Package extraction decides, per document, whether verified patterns cover the
// text or the extraction service has to be called, and turns either answer into
// extraction candidates.
package extraction

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/pkg/models"
	"golang.org/x/time/rate"
)

// DefaultPatternThreshold is the match confidence a pattern needs to skip the extraction service.
const DefaultPatternThreshold = 0.9

// PatternSource lists the patterns the engine may reuse. Tenant candidates are
// only used once their owner approved them.
type PatternSource interface {
	ListTenantPatterns(ctx context.Context, tenantID uuid.UUID, regulator, documentType string) ([]*models.PatternCandidate, error)
	ListSharedPatterns(ctx context.Context, regulator, documentType string) ([]*models.SharedPattern, error)
}

// Request describes one document to resolve.
type Request struct {
	DocumentID   uuid.UUID
	TenantID     uuid.UUID
	Text         string
	ModuleTypes  []string
	Regulator    string
	DocumentType string
	// PageCount is derived from Text when zero.
	PageCount int
}

// Result is the engine's answer for one document.
type Result struct {
	Obligations []models.ExtractionCandidate
	UsedModel   bool
	Metadata    Metadata
}

// Metadata reports how a result was produced.
type Metadata struct {
	Provider    string        `json:"provider,omitempty"`
	Model       string        `json:"model,omitempty"`
	PatternIDs  []uuid.UUID   `json:"pattern_ids,omitempty"`
	TimeoutTier string        `json:"timeout_tier,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
	PageCount   int           `json:"page_count"`
	Duration    time.Duration `json:"duration"`
}

// Engine resolves documents into extraction candidates.
type Engine struct {
	patterns  PatternSource
	extractor models.Extractor
	limiter   *rate.Limiter
	threshold float64
	tiers     config.TimeoutTiers
}

// NewEngine creates an Engine. Calls to the extractor are limited to cfg.RateLimit
// per second with a burst of cfg.RateBurst.
func NewEngine(patterns PatternSource, extractor models.Extractor, cfg config.ExtractionConfig) *Engine {
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}
	threshold := cfg.PatternThreshold
	if threshold <= 0 {
		threshold = DefaultPatternThreshold
	}
	tiers := cfg.Timeouts
	if tiers == (config.TimeoutTiers{}) {
		tiers = DefaultTimeoutTiers
	}
	return &Engine{
		patterns:  patterns,
		extractor: extractor,
		limiter:   rate.NewLimiter(limit, burst),
		threshold: threshold,
		tiers:     tiers,
	}
}

// Resolve extracts candidates from a document. Verified patterns are tried first;
// the extraction service is called unless clearing patterns account for every
// obligation clause in the document. On failure it returns no candidates and a
// classified error.
func (e *Engine) Resolve(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Validation("document %s has no extractable text", req.DocumentID)
	}

	pages := PageCount(req.Text, req.PageCount)

	res, err := e.matchPatterns(ctx, req)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res, err = e.callExtractor(ctx, req, pages)
		if err != nil {
			slog.Warn("extraction failed",
				"document_id", req.DocumentID,
				"provider", e.extractor.Name(),
				"retryable", apperr.Retryable(err),
				"error", err,
			)
			return nil, err
		}
	}

	res.Metadata.PageCount = pages
	res.Metadata.Duration = time.Since(start)

	slog.Info("extraction resolved",
		"document_id", req.DocumentID,
		"tenant_id", req.TenantID,
		"used_model", res.UsedModel,
		"obligations", len(res.Obligations),
		"duration_ms", res.Metadata.Duration.Milliseconds(),
	)
	return res, nil
}

// matchPatterns returns nil when no pattern clears the threshold, or when the
// clearing patterns leave obligation clauses of the document unmatched. A
// pattern-only result never drops clauses the patterns do not know.
func (e *Engine) matchPatterns(ctx context.Context, req Request) (*Result, error) {
	compiled, err := e.loadPatterns(ctx, req)
	if err != nil {
		return nil, err
	}

	text := canonicalText(req.Text)
	seen := make(map[string]bool)
	var spans []span
	res := &Result{Obligations: []models.ExtractionCandidate{}}

	for _, p := range compiled {
		confidence, hits := p.match(text)
		if len(hits) == 0 || confidence < e.threshold {
			continue
		}
		res.Metadata.PatternIDs = append(res.Metadata.PatternIDs, p.id)

		for _, hit := range hits {
			spans = append(spans, span{hit.start, hit.end})
			fp := Fingerprint(hit.text)
			if seen[fp] {
				continue
			}
			seen[fp] = true

			patternID := p.id
			res.Obligations = append(res.Obligations, models.ExtractionCandidate{
				DocumentID:      req.DocumentID,
				Source:          models.SourcePatternMatch,
				Text:            truncateString(hit.text, maxClauseBytes),
				RawFields:       copyFields(hit.fields),
				ConfidenceScore: clamp(confidence),
				IsSubjective:    IsSubjective(hit.text),
				PatternID:       &patternID,
				Fingerprint:     fp,
			})
		}
	}

	if len(res.Metadata.PatternIDs) == 0 {
		return nil, nil
	}
	if missing := uncoveredSegments(text, spans); missing > 0 {
		slog.Info("patterns do not cover the document, calling extraction service",
			"document_id", req.DocumentID,
			"pattern_ids", res.Metadata.PatternIDs,
			"uncovered_clauses", missing,
		)
		return nil, nil
	}
	return res, nil
}

// loadPatterns compiles the tenant's owner-approved patterns followed by shared
// patterns for the document's regulator and type. Invalid pattern bodies are skipped.
func (e *Engine) loadPatterns(ctx context.Context, req Request) ([]*compiledPattern, error) {
	tenant, err := e.patterns.ListTenantPatterns(ctx, req.TenantID, req.Regulator, req.DocumentType)
	if err != nil {
		return nil, apperr.Transient(err, "loading tenant patterns")
	}
	shared, err := e.patterns.ListSharedPatterns(ctx, req.Regulator, req.DocumentType)
	if err != nil {
		return nil, apperr.Transient(err, "loading shared patterns")
	}

	out := make([]*compiledPattern, 0, len(tenant)+len(shared))
	for _, c := range tenant {
		if !c.OwnerApproved {
			continue
		}
		p, err := compilePattern(c.ID, false, c.PatternBody)
		if err != nil {
			slog.Warn("skipping invalid pattern", "pattern_id", c.ID, "error", err)
			continue
		}
		out = append(out, p)
	}
	for _, s := range shared {
		if s.Regulator != req.Regulator || s.DocumentType != req.DocumentType {
			continue
		}
		p, err := compilePattern(s.ID, true, s.PatternBody)
		if err != nil {
			slog.Warn("skipping invalid shared pattern", "pattern_id", s.ID, "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (e *Engine) callExtractor(ctx context.Context, req Request, pages int) (*Result, error) {
	timeout, tier := TimeoutFor(e.tiers, pages)

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, apperr.Transient(err, "waiting for extraction rate limit")
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.extractor.Extract(callCtx, models.ExtractRequest{
		Text:         req.Text,
		ModuleTypes:  req.ModuleTypes,
		Regulator:    req.Regulator,
		DocumentType: req.DocumentType,
	})
	if err != nil {
		return nil, classify(callCtx, err, timeout)
	}

	res := &Result{
		Obligations: make([]models.ExtractionCandidate, 0, len(resp.Obligations)),
		UsedModel:   true,
		Metadata: Metadata{
			Provider:    e.extractor.Name(),
			Model:       resp.Model,
			TimeoutTier: tier,
			Timeout:     timeout,
		},
	}

	seen := make(map[string]bool)
	for _, o := range resp.Obligations {
		text := strings.TrimSpace(o.Text)
		if text == "" {
			continue
		}
		fp := Fingerprint(text)
		if seen[fp] {
			continue
		}
		seen[fp] = true

		res.Obligations = append(res.Obligations, models.ExtractionCandidate{
			DocumentID:      req.DocumentID,
			Source:          models.SourceModelExtraction,
			Text:            truncateString(text, maxClauseBytes),
			RawFields:       copyFields(o.Fields),
			ConfidenceScore: clamp(o.Confidence),
			IsSubjective:    IsSubjective(text),
			Fingerprint:     fp,
		})
	}
	return res, nil
}

// classify makes sure every extractor failure carries a retry decision. Deadline
// hits are transient; unclassified errors are treated as infrastructure failures.
func classify(callCtx context.Context, err error, timeout time.Duration) error {
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return apperr.Transient(err, "extraction timed out after %s", timeout)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Transient(err, "extraction service call failed")
}

func clamp(score float64) float64 {
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func copyFields(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
