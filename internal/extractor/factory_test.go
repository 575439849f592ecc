package extractor_test

import (
	"testing"

	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/internal/extractor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Anthropic(t *testing.T) {
	cfg := config.ExtractionConfig{
		Provider:  "anthropic",
		Anthropic: config.AnthropicConfig{APIKey: "sk-ant-test", Model: "claude-sonnet-4-5-20250929"},
	}
	p, err := extractor.NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())
}

func TestNewProvider_HTTP(t *testing.T) {
	cfg := config.ExtractionConfig{
		Provider: "http",
		HTTP:     config.HTTPExtractorConfig{BaseURL: "http://extractor:9000"},
	}
	p, err := extractor.NewProvider(cfg)
	require.NoError(t, err)
	assert.Equal(t, "http", p.Name())
}

func TestNewProvider_Mock(t *testing.T) {
	p, err := extractor.NewProvider(config.ExtractionConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.Equal(t, "mock", p.Name())
}

func TestNewProvider_Unknown(t *testing.T) {
	_, err := extractor.NewProvider(config.ExtractionConfig{Provider: "ollama"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extraction provider")
	assert.Contains(t, err.Error(), "ollama")
}

func TestNewProvider_Empty(t *testing.T) {
	_, err := extractor.NewProvider(config.ExtractionConfig{})
	require.Error(t, err)
}
