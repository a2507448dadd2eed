package verification

import (
	"time"

	"verity/internal/evidence/sources"
)

// Rule names the aggregation rule that decided a verdict.
type Rule string

const (
	RuleEmpty          Rule = "empty_input"
	RuleSanctionsHit   Rule = "sanctions_hit"
	RulePrimaryFailure Rule = "primary_failure"
	RuleDegraded       Rule = "degraded"
	RuleWeighted       Rule = "weighted"
)

// AggregatedVerdict is the combined outcome of one verification. It is never
// mutated after creation.
type AggregatedVerdict struct {
	ID                  string           `json:"id"`
	EntityID            string           `json:"entity_id,omitempty"`
	OverallStatus       sources.Status   `json:"overall_status"`
	Confidence          float64          `json:"confidence"`
	ContributingResults []sources.Result `json:"contributing_results"`
	Rule                Rule             `json:"rule"`
	ComputedAt          time.Time        `json:"computed_at"`
}
