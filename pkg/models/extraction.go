// Package models contains shared data models used across the trustgate codebase.
package models

import (
	"context"

	"github.com/google/uuid"
)

// CandidateSource records how an extraction candidate was produced.
type CandidateSource string

const (
	SourcePatternMatch    CandidateSource = "PATTERN_MATCH"
	SourceModelExtraction CandidateSource = "MODEL_EXTRACTION"
)

// ExtractionCandidate is one obligation detected in a document. It is never mutated
// after creation; it is superseded by a ReviewQueueItem or an activated Obligation.
type ExtractionCandidate struct {
	DocumentID      uuid.UUID         `json:"document_id"`
	Source          CandidateSource   `json:"source"`
	Text            string            `json:"text"`
	RawFields       map[string]string `json:"raw_fields"`
	ConfidenceScore float64           `json:"confidence_score"`
	IsSubjective    bool              `json:"is_subjective"`
	PatternID       *uuid.UUID        `json:"pattern_id,omitempty"`
	Fingerprint     string            `json:"fingerprint"`
}

// Extractor is the external text-to-structure extraction service.
// Never call a specific provider directly; always inject this interface.
type Extractor interface {
	// Extract returns the obligations the service found in the document text.
	Extract(ctx context.Context, req ExtractRequest) (ExtractResponse, error)
	// Name returns the provider identifier (e.g. "anthropic", "http").
	Name() string
}

// ExtractRequest is the input to the extraction service.
type ExtractRequest struct {
	Text         string   `json:"text"`
	ModuleTypes  []string `json:"module_types,omitempty"`
	Regulator    string   `json:"regulator,omitempty"`
	DocumentType string   `json:"document_type,omitempty"`
}

// ExtractResponse is the extraction service's answer.
type ExtractResponse struct {
	Model       string                `json:"model"`
	Obligations []ExtractedObligation `json:"obligations"`
}

// ExtractedObligation is a single structured item returned by the extraction service.
type ExtractedObligation struct {
	Text       string            `json:"text"`
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
}
