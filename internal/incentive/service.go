package incentive

import (
	"context"
	"errors"

	"engagement-engine/internal/store"
)

// Calculator computes pair discounts from persisted history on demand.
type Calculator struct {
	store store.Store
}

// NewCalculator constructs a calculator over the store.
func NewCalculator(st store.Store) *Calculator {
	return &Calculator{store: st}
}

// ComputeIncentive returns the pair's current discount rate in percent. A
// company with no configured terms gets zero; that is not an error.
func (c *Calculator) ComputeIncentive(ctx context.Context, companyID, contractorID string) (float64, error) {
	terms, err := c.store.GetEngagementTerms(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	history, err := c.store.PairHistory(ctx, companyID, contractorID)
	if err != nil {
		return 0, err
	}
	hasContract, err := c.store.HasDedicatedContract(ctx, companyID, contractorID)
	if err != nil {
		return 0, err
	}
	return Discount(terms, history, hasContract), nil
}
