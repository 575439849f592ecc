package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PatternScope marks a pattern as tenant-local or shared across tenants.
type PatternScope string

const (
	ScopeTenant PatternScope = "TENANT"
	ScopeGlobal PatternScope = "GLOBAL"
)

// PatternCandidate is a tenant-scoped, verified extraction pattern.
type PatternCandidate struct {
	ID              uuid.UUID       `db:"id"                json:"id"`
	TenantID        uuid.UUID       `db:"tenant_id"         json:"tenant_id"`
	Regulator       string          `db:"regulator"         json:"regulator"`
	DocumentType    string          `db:"document_type"     json:"document_type"`
	PatternBody     json.RawMessage `db:"pattern_body"      json:"pattern_body"`
	Fingerprint     string          `db:"fingerprint"       json:"fingerprint"`
	OccurrenceCount int             `db:"occurrence_count"  json:"occurrence_count"`
	Scope           PatternScope    `db:"scope"             json:"scope"`
	OwnerApproved   bool            `db:"owner_approved"    json:"owner_approved"`
	SharedPatternID *uuid.UUID      `db:"shared_pattern_id" json:"shared_pattern_id,omitempty"`
	CreatedAt       time.Time       `db:"created_at"        json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"        json:"updated_at"`
}

// SharedPattern is a GLOBAL pattern visible to every tenant.
type SharedPattern struct {
	ID                uuid.UUID       `db:"id"                  json:"id"`
	Regulator         string          `db:"regulator"           json:"regulator"`
	DocumentType      string          `db:"document_type"       json:"document_type"`
	PatternBody       json.RawMessage `db:"pattern_body"        json:"pattern_body"`
	Fingerprint       string          `db:"fingerprint"         json:"fingerprint"`
	OccurrenceCount   int             `db:"occurrence_count"    json:"occurrence_count"`
	SourceCandidateID uuid.UUID       `db:"source_candidate_id" json:"source_candidate_id"`
	CreatedAt         time.Time       `db:"created_at"          json:"created_at"`
}

// PatternBody is the decoded form of a pattern's JSON body.
type PatternBody struct {
	Clauses []PatternClause `json:"clauses"`
}

// PatternClause matches one obligation clause. Trigger is a Go regular expression.
type PatternClause struct {
	Trigger string            `json:"trigger"`
	Fields  map[string]string `json:"fields,omitempty"`
}
