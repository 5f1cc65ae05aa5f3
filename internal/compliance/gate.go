// Package compliance makes the single eligibility decision for a
// (contractor, job) pair. Every check runs; all failures are collected so the
// caller can report the full set of deficiencies at once. Unknown
// background-check state fails closed.
package compliance

import (
	"fmt"
	"time"

	"engagement-engine/internal/models"
)

// Reason strings surfaced to callers. The background-check wording is relied
// on by UI copy, keep it stable.
const (
	ReasonSuspended     = "account suspended"
	ReasonCheckMissing  = "background check missing or not passed"
	ReasonCheckExpired  = "background check expired"
	ReasonNotAvailable  = "not currently available"
	ReasonLowExperience = "insufficient experience"
)

// Decision is the aggregate eligibility result.
type Decision struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
}

// Inputs gathers everything the gate evaluates. Check is nil when the
// provider has never reported for this contractor.
type Inputs struct {
	Metrics      models.TrustMetrics
	Check        *models.BackgroundCheckResult
	Availability models.AvailabilityRecord
	Profile      models.ContractorProfile
}

// Evaluate runs all checks without short-circuiting.
func Evaluate(in Inputs, job models.Job, now time.Time) Decision {
	var reasons []string

	if in.Metrics.AccountStatus == models.AccountSuspended {
		reasons = append(reasons, ReasonSuspended)
	}

	// Validity and expiry are independent deficiencies: a check can be both
	// not passed and past its expiry date, and each gets its own reason.
	if in.Check == nil || !in.Check.IsValid || in.Check.OverallResult != "pass" {
		reasons = append(reasons, ReasonCheckMissing)
	}
	if in.Check != nil && !in.Check.ExpiryDate.After(now) {
		reasons = append(reasons, ReasonCheckExpired)
	}

	if !in.Availability.IsCurrentlyAvailable {
		reasons = append(reasons, ReasonNotAvailable)
	}

	for _, missing := range missingCapabilities(in.Profile.Capabilities, job.RequiredCapabilities) {
		reasons = append(reasons, fmt.Sprintf("missing required capability: %s", missing))
	}

	if in.Profile.ExperienceYears < job.MinExperienceYears {
		reasons = append(reasons, ReasonLowExperience)
	}

	return Decision{Eligible: len(reasons) == 0, Reasons: reasons}
}

func missingCapabilities(have, want []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, c := range have {
		set[c] = struct{}{}
	}
	var missing []string
	for _, c := range want {
		if _, ok := set[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}
