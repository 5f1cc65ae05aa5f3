package incentive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
)

func outcomes(kinds ...models.TrustEventKind) []models.PairOutcome {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.PairOutcome, len(kinds))
	for i, k := range kinds {
		out[i] = models.PairOutcome{Kind: k, OccurredAt: base.Add(time.Duration(i) * time.Hour)}
	}
	return out
}

func TestConsecutiveCompletions(t *testing.T) {
	assert.Equal(t, 0, ConsecutiveCompletions(nil))
	assert.Equal(t, 3, ConsecutiveCompletions(outcomes(
		models.EventCompleted, models.EventCompleted, models.EventCompleted)))
	// A cancellation breaks the streak; only the trailing run counts.
	assert.Equal(t, 1, ConsecutiveCompletions(outcomes(
		models.EventCompleted, models.EventCompleted, models.EventCancelled, models.EventCompleted)))
	assert.Equal(t, 0, ConsecutiveCompletions(outcomes(
		models.EventCompleted, models.EventNoShow)))
}

func TestDiscount(t *testing.T) {
	terms := models.EngagementTerms{
		CompanyID:              "acme",
		ConsistencyDiscountPct: 8,
		MinConsecutiveJobs:     3,
		LongTermContractPct:    15,
	}

	short := outcomes(models.EventCompleted, models.EventCompleted)
	streak := outcomes(models.EventCompleted, models.EventCompleted, models.EventCompleted)

	assert.Equal(t, 0.0, Discount(terms, short, false))
	assert.Equal(t, 8.0, Discount(terms, streak, false))
	assert.Equal(t, 15.0, Discount(terms, short, true))
	// Both apply: additive but capped.
	assert.Equal(t, float64(StackCap), Discount(terms, streak, true))

	terms.LongTermContractPct = 5
	assert.Equal(t, 13.0, Discount(terms, streak, true))
}

func TestValidTerms(t *testing.T) {
	good := models.EngagementTerms{ConsistencyDiscountPct: 10, MinConsecutiveJobs: 5, LongTermContractPct: 10}
	assert.True(t, ValidTerms(good))

	bad := good
	bad.ConsistencyDiscountPct = 12
	assert.False(t, ValidTerms(bad))

	bad = good
	bad.LongTermContractPct = 2
	assert.False(t, ValidTerms(bad))

	bad = good
	bad.MinConsecutiveJobs = 0
	assert.False(t, ValidTerms(bad))
}

func TestComputeIncentiveFromStore(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	calc := NewCalculator(st)

	// No configured terms: zero discount, not an error.
	rate, err := calc.ComputeIncentive(ctx, "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, rate)

	require.NoError(t, st.PutEngagementTerms(ctx, models.EngagementTerms{
		CompanyID:              "acme",
		ConsistencyDiscountPct: 6,
		MinConsecutiveJobs:     2,
		LongTermContractPct:    10,
	}))
	require.NoError(t, st.CreateContractor(ctx, models.ContractorProfile{ID: "c1"}, time.Now()))

	job, err := st.CreateJob(ctx, models.Job{CompanyID: "acme", Origin: "a", Destination: "b"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = st.AppendTrustEvent(ctx, models.TrustEvent{
			ContractorID: "c1", Kind: models.EventCompleted, JobID: job.ID,
			OccurredAt: time.Now().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	rate, err = calc.ComputeIncentive(ctx, "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, 6.0, rate)

	require.NoError(t, st.PutDedicatedContract(ctx, "acme", "c1"))
	rate, err = calc.ComputeIncentive(ctx, "acme", "c1")
	require.NoError(t, err)
	assert.Equal(t, 16.0, rate)
}
