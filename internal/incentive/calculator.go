// Package incentive derives platform-fee discounts from a company/contractor
// pair's accumulated job history. Discounts are recomputed on demand, never
// stored.
package incentive

import (
	"engagement-engine/internal/models"
)

// Bounds on the configured discounts, enforced when terms are saved.
const (
	ConsistencyMinPct = 5
	ConsistencyMaxPct = 10
	LongTermMinPct    = 5
	LongTermMaxPct    = 15

	// StackCap bounds the combined discount when both apply.
	StackCap = 20
)

// Discount computes the pair's fee discount percentage. The consistency
// discount unlocks once the trailing run of consecutive completions (no
// cancellation in between) reaches the company's configured minimum. The
// long-term discount applies only when an explicit dedicated-contract record
// exists. When both apply they stack additively, capped at StackCap.
func Discount(terms models.EngagementTerms, history []models.PairOutcome, hasContract bool) float64 {
	var rate float64

	if terms.MinConsecutiveJobs > 0 && ConsecutiveCompletions(history) >= terms.MinConsecutiveJobs {
		rate += terms.ConsistencyDiscountPct
	}
	if hasContract {
		rate += terms.LongTermContractPct
	}
	if rate > StackCap {
		rate = StackCap
	}
	return rate
}

// ConsecutiveCompletions counts the trailing completion run. A cancellation
// or no-show resets the streak; history must be ordered oldest first.
func ConsecutiveCompletions(history []models.PairOutcome) int {
	run := 0
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Kind != models.EventCompleted {
			break
		}
		run++
	}
	return run
}

// ValidTerms reports whether configured terms sit inside the product bounds.
func ValidTerms(terms models.EngagementTerms) bool {
	if terms.ConsistencyDiscountPct < ConsistencyMinPct || terms.ConsistencyDiscountPct > ConsistencyMaxPct {
		return false
	}
	if terms.LongTermContractPct < LongTermMinPct || terms.LongTermContractPct > LongTermMaxPct {
		return false
	}
	return terms.MinConsecutiveJobs > 0
}
