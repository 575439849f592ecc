// Package extractor selects the extraction service provider.
package extractor

import (
	"fmt"

	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/internal/extractor/anthropic"
	"github.com/kiranshivaraju/trustgate/internal/extractor/httpapi"
	"github.com/kiranshivaraju/trustgate/internal/extractor/mock"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

// NewProvider constructs the extraction provider named by config.
// Called once at server startup.
func NewProvider(cfg config.ExtractionConfig) (models.Extractor, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "http":
		return httpapi.NewProvider(cfg.HTTP), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q: must be one of anthropic, http, mock", cfg.Provider)
	}
}
