package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/trustgate/internal/apperr"
	"github.com/kiranshivaraju/trustgate/pkg/models"
)

var validate = validator.New()

// ExtractionPayload asks the pipeline to extract obligations from one document.
// CompanyID identifies the tenant.
type ExtractionPayload struct {
	DocumentID   uuid.UUID  `json:"document_id" validate:"required"`
	CompanyID    uuid.UUID  `json:"company_id" validate:"required"`
	SiteID       *uuid.UUID `json:"site_id,omitempty"`
	ModuleID     *uuid.UUID `json:"module_id,omitempty"`
	FilePath     string     `json:"file_path" validate:"required"`
	DocumentType string     `json:"document_type" validate:"required"`
	Regulator    string     `json:"regulator,omitempty"`
	ModuleTypes  []string   `json:"module_types,omitempty" validate:"omitempty,dive,required"`
	PageCount    int        `json:"page_count,omitempty" validate:"gte=0"`
}

// DistributionPayload asks the pipeline to distribute a document pack.
type DistributionPayload struct {
	PackID             uuid.UUID  `json:"pack_id" validate:"required"`
	CompanyID          uuid.UUID  `json:"company_id" validate:"required"`
	SiteID             *uuid.UUID `json:"site_id,omitempty"`
	DistributionMethod string     `json:"distribution_method" validate:"required,oneof=EMAIL SHARED_LINK"`
	Recipients         []string   `json:"recipients" validate:"required,min=1,dive,required"`
	Message            string     `json:"message,omitempty"`
}

// ValidatePayload checks that raw decodes to the payload shape of jobType and
// passes field validation.
func ValidatePayload(jobType models.JobType, raw json.RawMessage) error {
	var target any
	switch jobType {
	case models.JobTypeExtraction:
		target = &ExtractionPayload{}
	case models.JobTypeDistribution:
		target = &DistributionPayload{}
	default:
		return apperr.Validation("unknown job type %q", jobType)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperr.Validation("invalid %s payload: %v", jobType, err)
	}
	if err := validate.Struct(target); err != nil {
		return apperr.Validation("invalid %s payload: %v", jobType, err)
	}
	return nil
}

// EncodePayload validates v against jobType and returns its JSON encoding.
func EncodePayload(jobType models.JobType, v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, apperr.Validation("encode %s payload: %v", jobType, err)
	}
	if err := ValidatePayload(jobType, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// DecodeExtraction decodes an extraction job's payload. A shape mismatch is permanent.
func DecodeExtraction(job *models.Job) (ExtractionPayload, error) {
	var p ExtractionPayload
	if err := decode(job, models.JobTypeExtraction, &p); err != nil {
		return ExtractionPayload{}, err
	}
	return p, nil
}

// DecodeDistribution decodes a distribution job's payload. A shape mismatch is permanent.
func DecodeDistribution(job *models.Job) (DistributionPayload, error) {
	var p DistributionPayload
	if err := decode(job, models.JobTypeDistribution, &p); err != nil {
		return DistributionPayload{}, err
	}
	return p, nil
}

func decode(job *models.Job, want models.JobType, target any) error {
	if job.Type != want {
		return apperr.Permanent(fmt.Errorf("job %s has type %s, expected %s", job.ID, job.Type, want))
	}
	if err := json.Unmarshal(job.Payload, target); err != nil {
		return apperr.Permanent(fmt.Errorf("decode %s payload for job %s: %w", want, job.ID, err))
	}
	if err := validate.Struct(target); err != nil {
		return apperr.Permanent(fmt.Errorf("invalid %s payload for job %s: %w", want, job.ID, err))
	}
	return nil
}
