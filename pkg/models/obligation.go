package models

import (
	"time"

	"github.com/google/uuid"
)

// ObligationStatus is the lifecycle state of an obligation as owned by the pipeline.
type ObligationStatus string

const (
	// ObligationStatusDraft is awaiting review.
	ObligationStatusDraft ObligationStatus = "DRAFT"
	// ObligationStatusPending is activated and pending operational follow-up.
	ObligationStatusPending  ObligationStatus = "PENDING"
	ObligationStatusRejected ObligationStatus = "REJECTED"
)

// Obligation is the minimal obligation record the pipeline creates and activates.
// The record-management layer owns everything else about it.
type Obligation struct {
	ID           uuid.UUID         `db:"id"            json:"id"`
	TenantID     uuid.UUID         `db:"tenant_id"     json:"tenant_id"`
	DocumentID   uuid.UUID         `db:"document_id"   json:"document_id"`
	SiteID       *uuid.UUID        `db:"site_id"       json:"site_id,omitempty"`
	SourceKey    string            `db:"source_key"    json:"source_key"`
	Regulator    string            `db:"regulator"     json:"regulator"`
	DocumentType string            `db:"document_type" json:"document_type"`
	Title        string            `db:"title"         json:"title"`
	Text         string            `db:"text"          json:"text"`
	RawFields    map[string]string `db:"raw_fields"    json:"raw_fields"`
	Source       CandidateSource   `db:"source"        json:"source"`
	Confidence   float64           `db:"confidence"    json:"confidence"`
	Status       ObligationStatus  `db:"status"        json:"status"`
	CreatedAt    time.Time         `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at"    json:"updated_at"`
}

// ExtractionCompletion is the idempotent record of an extraction-complete callback.
type ExtractionCompletion struct {
	DocumentID       uuid.UUID `db:"document_id"       json:"document_id"`
	TenantID         uuid.UUID `db:"tenant_id"         json:"tenant_id"`
	ExtractionStatus string    `db:"extraction_status" json:"extraction_status"`
	ObligationCount  *int      `db:"obligation_count"  json:"obligation_count,omitempty"`
	ErrorMessage     *string   `db:"error_message"     json:"error_message,omitempty"`
	ReceivedAt       time.Time `db:"received_at"       json:"received_at"`
	UpdatedAt        time.Time `db:"updated_at"        json:"updated_at"`
}

// Extraction statuses reported through the completion callback.
const (
	ExtractionStatusCompleted = "COMPLETED"
	ExtractionStatusFailed    = "FAILED"
)
