// Package httpapi talks to a black-box text-to-structure extraction service over HTTP.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// maxErrorBody bounds how much of an error response is kept for the error message.
const maxErrorBody = 512

// Provider implements models.Extractor against POST {base}/v1/extract.
type Provider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewProvider creates a Provider. Deadlines come from the caller's context.
func NewProvider(cfg config.HTTPExtractorConfig) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{},
	}
}

func (p *Provider) Name() string { return "http" }

func (p *Provider) Extract(ctx context.Context, req models.ExtractRequest) (models.ExtractResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.ExtractResponse{}, apperr.Permanent(fmt.Errorf("encoding extract request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return models.ExtractResponse{}, apperr.Permanent(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return models.ExtractResponse{}, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ExtractResponse{}, statusError(resp)
	}

	var out models.ExtractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.ExtractResponse{}, apperr.Permanent(fmt.Errorf("decoding extract response: %w", err))
	}
	if out.Obligations == nil {
		return models.ExtractResponse{}, apperr.Permanent(errors.New("extract response has no obligations field"))
	}
	return out, nil
}

// statusError maps a non-200 response: 429 and 5xx retry, other statuses never will.
func statusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err := fmt.Errorf("extraction service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return apperr.Transient(err, "extraction service unavailable")
	}
	return apperr.Permanent(err)
}

// classifyError maps transport-level failures. All of them are retryable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err, "extraction service timeout")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Transient(err, "extraction service timeout")
	}

	return apperr.Transient(err, "extraction service unreachable")
}

// Compile-time check that Provider implements models.Extractor.
var _ models.Extractor = (*Provider)(nil)
