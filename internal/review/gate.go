// Package review gates extraction candidates by confidence and risk, and resolves
// the review items the gate creates.
package review

import "github.com/kiranshivaraju/trustgate/pkg/models"

// Action is the gate's routing decision for a candidate.
type Action string

const (
	ActionAutoActivate Action = "AUTO_ACTIVATE"
	ActionReview       Action = "REVIEW"
)

// Risk score contributions and level cut-offs.
const (
	modelExtractionRisk = 0.25
	subjectiveRisk      = 0.15
	highRiskCutoff      = 0.6
	mediumRiskCutoff    = 0.3
)

// Decision is the outcome of Classify.
type Decision struct {
	Action              Action                   `json:"action"`
	ReviewType          models.ReviewType        `json:"review_type,omitempty"`
	IsBlocking          bool                     `json:"is_blocking"`
	Priority            models.Priority          `json:"priority"`
	HallucinationRisk   models.HallucinationRisk `json:"hallucination_risk"`
	RiskScore           float64                  `json:"risk_score"`
	RequiresDualSignoff bool                     `json:"requires_dual_signoff"`
}

// Classify routes a candidate. Subjective candidates always go to review;
// otherwise the confidence score is compared with the tenant's thresholds.
func Classify(c models.ExtractionCandidate, policy models.GatePolicy) Decision {
	score := c.ConfidenceScore
	d := Decision{
		RiskScore: riskScore(c, policy.AutoActivateThreshold),
	}
	d.HallucinationRisk = riskLevel(d.RiskScore)

	switch {
	case c.IsSubjective:
		d.Action = ActionReview
		d.ReviewType = models.ReviewTypeSubjectiveLanguage
		d.IsBlocking = score < policy.BlockingThreshold || policy.SubjectiveBlocking
	case score >= policy.AutoActivateThreshold:
		d.Action = ActionAutoActivate
		d.Priority = models.PriorityLow
		return d
	default:
		d.Action = ActionReview
		d.ReviewType = models.ReviewTypeLowConfidence
		d.IsBlocking = score < policy.BlockingThreshold
	}

	switch {
	case d.IsBlocking, d.HallucinationRisk == models.RiskHigh:
		d.Priority = models.PriorityHigh
	case c.IsSubjective, d.HallucinationRisk == models.RiskMedium:
		d.Priority = models.PriorityMedium
	default:
		d.Priority = models.PriorityLow
	}
	d.RequiresDualSignoff = d.HallucinationRisk == models.RiskHigh
	return d
}

func riskScore(c models.ExtractionCandidate, threshold float64) float64 {
	var r float64
	if threshold > 0 && c.ConfidenceScore < threshold {
		r = (threshold - c.ConfidenceScore) / threshold
	}
	if c.Source == models.SourceModelExtraction {
		r += modelExtractionRisk
	}
	if c.IsSubjective {
		r += subjectiveRisk
	}
	return r
}

func riskLevel(score float64) models.HallucinationRisk {
	switch {
	case score >= highRiskCutoff:
		return models.RiskHigh
	case score >= mediumRiskCutoff:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}

// EffectivePolicy returns the tenant's policy, or defaults when the tenant has
// no auto-activate threshold configured.
func EffectivePolicy(tenant, defaults models.GatePolicy) models.GatePolicy {
	if tenant.AutoActivateThreshold <= 0 {
		return defaults
	}
	return tenant
}
