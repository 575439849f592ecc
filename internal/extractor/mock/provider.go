package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// MockProvider satisfies models.Extractor for testing.
type MockProvider struct {
	Name_       string
	ExtractFunc func(ctx context.Context, req models.ExtractRequest) (models.ExtractResponse, error)

	mu    sync.Mutex
	calls []models.ExtractRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Extract(ctx context.Context, req models.ExtractRequest) (models.ExtractResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, req)
	}
	return models.ExtractResponse{Model: "mock-v1", Obligations: []models.ExtractedObligation{}}, nil
}

// Calls returns the requests received so far.
func (m *MockProvider) Calls() []models.ExtractRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ExtractRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// NewMockProvider returns a MockProvider that reports every sentence containing
// "shall" or "must" as an obligation with confidence 0.9.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ExtractFunc: func(_ context.Context, req models.ExtractRequest) (models.ExtractResponse, error) {
			out := []models.ExtractedObligation{}
			for _, sentence := range strings.Split(req.Text, ".") {
				s := strings.TrimSpace(sentence)
				lower := strings.ToLower(s)
				if strings.Contains(lower, "shall") || strings.Contains(lower, "must") {
					out = append(out, models.ExtractedObligation{Text: s + ".", Confidence: 0.9})
				}
			}
			return models.ExtractResponse{Model: "mock-v1", Obligations: out}, nil
		},
	}
}

// NewStaticProvider returns a MockProvider that always answers with obligations.
func NewStaticProvider(obligations ...models.ExtractedObligation) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ExtractFunc: func(_ context.Context, _ models.ExtractRequest) (models.ExtractResponse, error) {
			return models.ExtractResponse{Model: "mock-v1", Obligations: obligations}, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ExtractFunc: func(_ context.Context, _ models.ExtractRequest) (models.ExtractResponse, error) {
			return models.ExtractResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		ExtractFunc: func(ctx context.Context, _ models.ExtractRequest) (models.ExtractResponse, error) {
			<-ctx.Done()
			return models.ExtractResponse{}, apperr.Transient(ctx.Err(), "extraction timed out")
		},
	}
}

// Compile-time check that MockProvider implements models.Extractor.
var _ models.Extractor = (*MockProvider)(nil)
