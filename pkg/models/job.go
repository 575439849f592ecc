package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies the queue a job belongs to.
type JobType string

const (
	JobTypeExtraction   JobType = "extraction"
	JobTypeDistribution JobType = "distribution"
)

// JobStatus is a state of the job state machine.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusActive    JobStatus = "ACTIVE"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusDead      JobStatus = "DEAD"
)

// Job is a unit of background work. It is mutated only by the worker currently holding it.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Type         JobType         `db:"type"          json:"type"`
	Payload      json.RawMessage `db:"payload"       json:"payload"`
	Priority     int             `db:"priority"      json:"priority"`
	Status       JobStatus       `db:"status"        json:"status"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int             `db:"max_attempts"  json:"max_attempts"`
	LastError    *string         `db:"last_error"    json:"last_error,omitempty"`
	LockedBy     *string         `db:"locked_by"     json:"locked_by,omitempty"`
	RunAt        time.Time       `db:"run_at"        json:"run_at"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	StartedAt    *time.Time      `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"  json:"completed_at,omitempty"`
}

// DeadLetter is a job that exhausted its retry budget, kept for operator inspection.
type DeadLetter struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	JobID        uuid.UUID       `db:"job_id"        json:"job_id"`
	Type         JobType         `db:"type"          json:"type"`
	Payload      json.RawMessage `db:"payload"       json:"payload"`
	Priority     int             `db:"priority"      json:"priority"`
	AttemptCount int             `db:"attempt_count" json:"attempt_count"`
	MaxAttempts  int             `db:"max_attempts"  json:"max_attempts"`
	FinalError   string          `db:"final_error"   json:"final_error"`
	FailedAt     time.Time       `db:"failed_at"     json:"failed_at"`
}
