package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a company. Every pipeline entity except SharedPattern belongs to a tenant.
type Tenant struct {
	ID        uuid.UUID  `db:"id"         json:"id"`
	Name      string     `db:"name"       json:"name"`
	Policy    GatePolicy `db:"-"          json:"gate_policy"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
}

// GatePolicy holds the tenant-configurable thresholds used by the risk gate.
type GatePolicy struct {
	AutoActivateThreshold float64 `db:"auto_activate_threshold" json:"auto_activate_threshold"`
	BlockingThreshold     float64 `db:"blocking_threshold"      json:"blocking_threshold"`
	SubjectiveBlocking    bool    `db:"subjective_blocking"     json:"subjective_blocking"`
}
