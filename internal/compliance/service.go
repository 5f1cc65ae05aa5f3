package compliance

import (
	"context"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
)

// CheckSource returns the last-known background-check result for a
// contractor, or nil when the provider has never reported. Lookups must not
// block on the provider; implementations read a cache.
type CheckSource interface {
	Get(ctx context.Context, contractorID string) (*models.BackgroundCheckResult, error)
}

// Gate loads a contractor's state and evaluates eligibility for a job.
type Gate struct {
	store  store.Store
	checks CheckSource
	now    func() time.Time
}

// NewGate constructs the gate over the store and the check cache.
func NewGate(st store.Store, checks CheckSource) *Gate {
	return &Gate{store: st, checks: checks, now: time.Now}
}

// Eligibility gathers the gate inputs and evaluates them. A failed or empty
// background-check lookup degrades to unknown, which Evaluate fails closed;
// the gate never retries or blocks on the provider.
func (g *Gate) Eligibility(ctx context.Context, contractorID string, job models.Job) (Decision, error) {
	metrics, err := g.store.GetTrustMetrics(ctx, contractorID)
	if err != nil {
		return Decision{}, err
	}
	avail, err := g.store.GetAvailability(ctx, contractorID)
	if err != nil {
		return Decision{}, err
	}
	profile, err := g.store.GetContractorProfile(ctx, contractorID)
	if err != nil {
		return Decision{}, err
	}

	var check *models.BackgroundCheckResult
	if g.checks != nil {
		if cached, err := g.checks.Get(ctx, contractorID); err == nil {
			check = cached
		}
	}

	return Evaluate(Inputs{
		Metrics:      metrics,
		Check:        check,
		Availability: avail,
		Profile:      profile,
	}, job, g.now()), nil
}
