// Package trust folds job-outcome events into contractor reliability
// snapshots. Apply is pure: callers persist the returned snapshot with a
// version compare-and-swap, so replaying an event stream in sequence order
// always produces the same final metrics.
package trust

import (
	"engagement-engine/internal/models"
)

// Rating deltas per event kind. Completions earn a bonus tiered on the
// contractor's on-time rate after the event is folded in.
const (
	cancelPenalty = 5
	noShowPenalty = 15
)

// Account status thresholds on the trust rating.
const (
	activeThreshold    = 90
	warningThreshold   = 80
	probationThreshold = 60
)

// StatusFor derives the account tier from a trust rating.
func StatusFor(rating float64) models.AccountStatus {
	switch {
	case rating >= activeThreshold:
		return models.AccountActive
	case rating >= warningThreshold:
		return models.AccountWarning
	case rating >= probationThreshold:
		return models.AccountProbation
	default:
		return models.AccountSuspended
	}
}

// Apply folds one event into a metrics snapshot and returns the successor.
// The input is never mutated. Counters only grow, the rating stays within
// [0,100], and AccountStatus is always recomputed from the new rating.
func Apply(m models.TrustMetrics, ev models.TrustEvent) models.TrustMetrics {
	next := m
	next.TotalJobs++
	next.LastRatingUpdate = ev.OccurredAt
	next.LastSeq = ev.Seq

	switch ev.Kind {
	case models.EventCompleted:
		onTime := 0.0
		if ev.OnTime {
			onTime = 100
		}
		next.OnTimeRate = foldAverage(m.OnTimeRate, m.CompletedJobs, onTime)
		if ev.CustomerRating >= 1 && ev.CustomerRating <= 5 {
			next.CustomerRating = foldAverage(m.CustomerRating, m.CompletedJobs, float64(ev.CustomerRating))
		}
		next.CompletedJobs++
		next.TrustRating += completionBonus(next.OnTimeRate)
	case models.EventCancelled:
		next.CancelledJobs++
		next.TrustRating -= cancelPenalty
	case models.EventNoShow:
		next.NoShowJobs++
		next.TrustRating -= noShowPenalty
	}

	next.TrustRating = clamp(next.TrustRating, 0, 100)
	next.AccountStatus = StatusFor(next.TrustRating)
	return next
}

// completionBonus rewards reliable contractors faster. Only the thresholds
// are product-facing; the tiering keeps a single no-show recoverable within
// about five clean jobs.
func completionBonus(onTimeRate float64) float64 {
	switch {
	case onTimeRate >= 90:
		return 3
	case onTimeRate >= 70:
		return 2
	default:
		return 1
	}
}

// foldAverage extends a running average over n samples with one more value.
func foldAverage(avg float64, n int, value float64) float64 {
	return (avg*float64(n) + value) / float64(n+1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
