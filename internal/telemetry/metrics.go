package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ClaimsAccepted      = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_claims_total", Help: "Job claims that won the compare-and-set"})
	ClaimConflicts      = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_claim_conflicts_total", Help: "Job claims lost to a concurrent contractor"})
	EligibilityDenials  = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_eligibility_denied_total", Help: "Claims rejected by the compliance gate"})
	Transitions         = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_transitions_total", Help: "Successful job status transitions"})
	TrustEventsApplied  = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_trust_events_applied_total", Help: "Trust events folded into metric snapshots"})
	StaleClaimsReverted = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_stale_claims_reverted_total", Help: "Requested jobs reopened after the review window lapsed"})
	ScheduleSaves       = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_schedule_saves_total", Help: "Weekly schedules saved and locked"})
	ScheduleLockRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_schedule_lock_rejects_total", Help: "Schedule saves rejected by the 7-day lock"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "engagement_rate_limit_rejects_total", Help: "Claim attempts rejected by the rate limiter"})
	OpenJobsGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "engagement_open_jobs", Help: "Postings currently claimable"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ClaimsAccepted,
			ClaimConflicts,
			EligibilityDenials,
			Transitions,
			TrustEventsApplied,
			StaleClaimsReverted,
			ScheduleSaves,
			ScheduleLockRejects,
			RateLimitRejects,
			OpenJobsGauge,
		)
	})
	return promhttp.Handler()
}
