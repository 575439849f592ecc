// Package records reports extraction outcomes to the record-management layer.
package records

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
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/config"
)

// CompletionPath is the callback endpoint, relative to the records base URL.
const CompletionPath = "/webhooks/extraction-complete"

const maxErrorBody = 512

// Completion is the extraction-complete callback body.
type Completion struct {
	DocumentID       uuid.UUID `json:"document_id"       validate:"required"`
	ExtractionStatus string    `json:"extraction_status" validate:"required,oneof=COMPLETED FAILED"`
	ObligationCount  *int      `json:"obligation_count,omitempty" validate:"omitempty,min=0"`
	ErrorMessage     *string   `json:"error_message,omitempty"`
}

// Notifier delivers completion callbacks.
type Notifier interface {
	NotifyCompletion(ctx context.Context, c Completion) error
}

// HTTPClient implements Notifier over HTTP.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a client for the records layer.
func NewHTTPClient(cfg config.RecordsConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// NotifyCompletion posts c. The document id is the idempotency key, so retries
// after a lost response are safe.
func (c *HTTPClient) NotifyCompletion(ctx context.Context, completion Completion) error {
	return c.post(ctx, CompletionPath, completion.DocumentID.String(), completion)
}

func (c *HTTPClient) post(ctx context.Context, path, idempotencyKey string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return apperr.Permanent(fmt.Errorf("encoding request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperr.Permanent(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("POST %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return apperr.Transient(err, "records layer unavailable")
		}
		return apperr.Permanent(err)
	}
	return nil
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Transient(err, "records layer timeout")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.Transient(err, "records layer timeout")
	}

	return apperr.Transient(err, "records layer unreachable")
}

// Compile-time checks that HTTPClient implements Notifier and Distributor.
var (
	_ Notifier    = (*HTTPClient)(nil)
	_ Distributor = (*HTTPClient)(nil)
)
