package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/internal/config"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

const systemPrompt = `You extract regulatory obligations from permit and licence documents.
Reply with a single JSON object and nothing else, in this shape:
{"obligations":[{"text":"<verbatim clause>","fields":{"<name>":"<value>"},"confidence":<0..1>}]}
Copy each clause text verbatim from the document. Use fields such as frequency, deadline,
parameter and limit when the clause states them. Never invent values that are not in the text.
If the document contains no obligations, reply {"obligations":[]}.`

// Provider implements models.Extractor using the Anthropic Messages API.
type Provider struct {
	client    sdk.Client
	model     string
	maxTokens int
}

// NewProvider builds a Provider. SDK retries are disabled; failed jobs are retried by the queue.
func NewProvider(cfg config.AnthropicConfig) *Provider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	return &Provider{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Extract(ctx context.Context, req models.ExtractRequest) (models.ExtractResponse, error) {
	msg, err := p.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(userPrompt(req))),
		},
	})
	if err != nil {
		return models.ExtractResponse{}, classifyError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	obligations, err := parseObligations(text.String())
	if err != nil {
		return models.ExtractResponse{}, apperr.Permanent(err)
	}

	return models.ExtractResponse{Model: string(msg.Model), Obligations: obligations}, nil
}

func userPrompt(req models.ExtractRequest) string {
	var b strings.Builder
	if req.Regulator != "" {
		fmt.Fprintf(&b, "Regulator: %s\n", req.Regulator)
	}
	if req.DocumentType != "" {
		fmt.Fprintf(&b, "Document type: %s\n", req.DocumentType)
	}
	if len(req.ModuleTypes) > 0 {
		fmt.Fprintf(&b, "Only extract obligations relevant to: %s\n", strings.Join(req.ModuleTypes, ", "))
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(req.Text)
	return b.String()
}

// parseObligations decodes the model's reply, tolerating a fenced code block around the JSON.
func parseObligations(reply string) ([]models.ExtractedObligation, error) {
	body := strings.TrimSpace(reply)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errors.New("anthropic returned an empty reply")
	}

	var out struct {
		Obligations []models.ExtractedObligation `json:"obligations"`
	}
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decoding anthropic reply: %w", err)
	}
	if out.Obligations == nil {
		return nil, errors.New("anthropic reply has no obligations field")
	}
	return out.Obligations, nil
}

// classifyError retries rate limits, overload and transport failures, and nothing else.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500 {
			return apperr.Transient(err, "anthropic returned status %d", apiErr.StatusCode)
		}
		return apperr.Permanent(fmt.Errorf("anthropic returned status %d: %w", apiErr.StatusCode, err))
	}
	return apperr.Transient(err, "calling anthropic")
}

// Compile-time check that Provider implements models.Extractor.
var _ models.Extractor = (*Provider)(nil)
