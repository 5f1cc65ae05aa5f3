package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/internal/compliance"
	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
)

type stubGate struct {
	decision compliance.Decision
}

func (s stubGate) Eligibility(context.Context, string, models.Job) (compliance.Decision, error) {
	return s.decision, nil
}

func allowAll() stubGate {
	return stubGate{decision: compliance.Decision{Eligible: true}}
}

func newTestController(st store.Store, gate EligibilityChecker) *Controller {
	return New(st, gate, nil, 4*time.Hour)
}

func openJob(t *testing.T, st store.Store) models.Job {
	t.Helper()
	job, err := st.CreateJob(context.Background(), models.Job{
		CompanyID:   "acme",
		Origin:      "Dallas, TX",
		Destination: "Austin, TX",
		RateCents:   45000,
	})
	require.NoError(t, err)
	return job
}

func TestAcceptJobClaimsAtomically(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	claimed, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRequested, claimed.Status)
	require.NotNil(t, claimed.AssignedTo)
	assert.Equal(t, "c1", *claimed.AssignedTo)
	require.NotNil(t, claimed.RequestedAt)
	require.NotNil(t, claimed.LockExpiresAt)
	assert.Equal(t, claimed.RequestedAt.Add(4*time.Hour), *claimed.LockExpiresAt)

	// A later claim on the same job loses.
	_, err = c.AcceptJob(ctx, job.ID, "c2")
	assert.ErrorIs(t, err, ErrConflictAlreadyAssigned)
}

func TestAcceptJobConcurrentRaceHasOneWinner(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, contractor := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(i int, contractor string) {
			defer wg.Done()
			_, errs[i] = c.AcceptJob(ctx, job.ID, contractor)
		}(i, contractor)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case err == ErrConflictAlreadyAssigned:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestAcceptJobDeniedByGate(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	gate := stubGate{decision: compliance.Decision{
		Eligible: false,
		Reasons:  []string{compliance.ReasonCheckExpired, compliance.ReasonLowExperience},
	}}
	c := newTestController(st, gate)
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	var denied *EligibilityDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, []string{compliance.ReasonCheckExpired, compliance.ReasonLowExperience}, denied.Reasons)

	// The job stays open: the gate rejects before the claim.
	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Nil(t, got.AssignedTo)
}

func advance(c *Controller, d time.Duration) {
	base := time.Now()
	c.now = func() time.Time { return base.Add(d) }
}

func TestFullDeliveryPath(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)

	assigned, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned})
	require.NoError(t, err)
	assert.NotNil(t, assigned.AssignedAt)
	assert.Nil(t, assigned.LockExpiresAt)

	picked, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusPickedUp})
	require.NoError(t, err)
	assert.NotNil(t, picked.PickedUpAt)

	delivered, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusDelivered})
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	paid, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "billing", Role: RoleBilling, To: models.StatusPaid, CustomerRating: 5})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, paid.Status)
	assert.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.AssignedTo)
	assert.Equal(t, "c1", *paid.AssignedTo)

	// Completion lands in the trust-event log at the paid timestamp.
	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCompleted, events[0].Kind)
	assert.Equal(t, "c1", events[0].ContractorID)
	assert.True(t, events[0].OnTime)
	assert.Equal(t, 5, events[0].CustomerRating)
	assert.Equal(t, *paid.PaidAt, events[0].OccurredAt)
}

func TestLateDeliveryRecordedAsNotOnTime(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())

	job, err := st.CreateJob(ctx, models.Job{
		CompanyID:         "acme",
		Origin:            "a",
		Destination:       "b",
		DeliveryWindowEnd: time.Now().Add(-time.Hour), // already past
	})
	require.NoError(t, err)

	_, err = c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)
	for _, step := range []TransitionRequest{
		{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusPickedUp},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusDelivered},
		{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusPaid},
	} {
		_, err = c.UpdateStatus(ctx, step)
		require.NoError(t, err)
	}

	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.False(t, events[0].OnTime)
}

func TestUpdateStatusRejectsUnlistedTransitions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	// Skipping states is never listed.
	_, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusDelivered})
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatusOpen, invalid.From)

	// The claim edge cannot be driven through UpdateStatus.
	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusRequested})
	require.ErrorAs(t, err, &invalid)

	// paid is terminal.
	_, err = c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)
	for _, step := range []TransitionRequest{
		{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusPickedUp},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusDelivered},
		{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusPaid},
	} {
		_, err = c.UpdateStatus(ctx, step)
		require.NoError(t, err)
	}
	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusDelivered})
	require.ErrorAs(t, err, &invalid)
}

func TestUpdateStatusRejectsWrongActor(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)

	// Contractors may not confirm assignments.
	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusAssigned})
	var unauth *UnauthorizedError
	require.ErrorAs(t, err, &unauth)

	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned})
	require.NoError(t, err)

	// Only the claiming contractor may mark pickup.
	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c2", Role: RoleContractor, To: models.StatusPickedUp})
	require.ErrorAs(t, err, &unauth)
}

func TestCancellationReopensAndRecordsEvent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)

	reopened, err := c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusOpen})
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.AssignedTo)
	assert.Nil(t, reopened.RequestedAt)
	assert.Nil(t, reopened.LockExpiresAt)

	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCancelled, events[0].Kind)
	assert.Equal(t, "c1", events[0].ContractorID)

	// The job is claimable again.
	_, err = c.AcceptJob(ctx, job.ID, "c2")
	require.NoError(t, err)
}

func TestReportNoShow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)

	// Only assigned jobs can be no-showed.
	_, err = c.ReportNoShow(ctx, job.ID, RoleAdmin)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	_, err = c.UpdateStatus(ctx, TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned})
	require.NoError(t, err)

	_, err = c.ReportNoShow(ctx, job.ID, RoleContractor)
	var unauth *UnauthorizedError
	require.ErrorAs(t, err, &unauth)

	reopened, err := c.ReportNoShow(ctx, job.ID, RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.AssignedTo)

	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventNoShow, events[0].Kind)
}

// faultyStore fails the combined job-and-event write a set number of times.
type faultyStore struct {
	*store.Memory
	failures int
}

var errStorageDown = errors.New("storage unavailable")

func (f *faultyStore) UpdateJobWithEvent(ctx context.Context, job models.Job, ev models.TrustEvent) (models.Job, error) {
	if f.failures > 0 {
		f.failures--
		return models.Job{}, errStorageDown
	}
	return f.Memory.UpdateJobWithEvent(ctx, job, ev)
}

func TestPaidCommitsWithCompletionEventOrNotAtAll(t *testing.T) {
	ctx := context.Background()
	st := &faultyStore{Memory: store.NewMemory(), failures: 1}
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)
	for _, step := range []TransitionRequest{
		{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusAssigned},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusPickedUp},
		{JobID: job.ID, ActorID: "c1", Role: RoleContractor, To: models.StatusDelivered},
	} {
		_, err = c.UpdateStatus(ctx, step)
		require.NoError(t, err)
	}

	pay := TransitionRequest{JobID: job.ID, ActorID: "admin1", Role: RoleAdmin, To: models.StatusPaid, CustomerRating: 5}

	// The write fails: the job must stay delivered with no event recorded,
	// otherwise the completion is lost forever behind a terminal status.
	_, err = c.UpdateStatus(ctx, pay)
	require.ErrorIs(t, err, errStorageDown)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, got.Status)
	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)

	// Re-driving the same transition now lands both atomically.
	_, err = c.UpdateStatus(ctx, pay)
	require.NoError(t, err)

	got, err = st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPaid, got.Status)
	events, err = st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventCompleted, events[0].Kind)
}

func TestExpireStaleRequests(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c := newTestController(st, allowAll())
	job := openJob(t, st)

	_, err := c.AcceptJob(ctx, job.ID, "c1")
	require.NoError(t, err)

	// Within the review window nothing expires.
	reverted, err := c.ExpireStaleRequests(ctx, 100)
	require.NoError(t, err)
	assert.Zero(t, reverted)

	advance(c, 5*time.Hour)
	reverted, err = c.ExpireStaleRequests(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, reverted)

	got, err := st.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, got.Status)
	assert.Nil(t, got.AssignedTo)
	assert.Nil(t, got.LockExpiresAt)

	// No trust event: an un-reviewed claim is not the contractor's fault.
	events, err := st.UnappliedTrustEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
