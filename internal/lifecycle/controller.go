// Package lifecycle owns the job status state machine. Transitions follow an
// exhaustive table; the claim path is an atomic compare-and-set guarded by
// the compliance gate; completions feed the trust-event log.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"engagement-engine/internal/compliance"
	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
	"engagement-engine/internal/telemetry"
)

// EligibilityChecker is the compliance gate consulted before a claim.
type EligibilityChecker interface {
	Eligibility(ctx context.Context, contractorID string, job models.Job) (compliance.Decision, error)
}

// Notifier is invoked fire-and-forget on transitions. Delivery failures are
// the notifier's problem; the controller never depends on them.
type Notifier interface {
	JobTransition(ctx context.Context, job models.Job, from models.JobStatus)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) JobTransition(context.Context, models.Job, models.JobStatus) {}

// Controller drives job transitions against the store.
type Controller struct {
	store        store.Store
	gate         EligibilityChecker
	notifier     Notifier
	reviewWindow time.Duration
	now          func() time.Time
}

// New constructs a controller. reviewWindow bounds how long a claim may sit
// awaiting admin confirmation.
func New(st store.Store, gate EligibilityChecker, n Notifier, reviewWindow time.Duration) *Controller {
	if n == nil {
		n = NopNotifier{}
	}
	return &Controller{
		store:        st,
		gate:         gate,
		notifier:     n,
		reviewWindow: reviewWindow,
		now:          time.Now,
	}
}

// AcceptJob is the contractor claim: gate check, then an atomic open ->
// requested compare-and-set. Exactly one of two concurrent callers wins; the
// other receives ErrConflictAlreadyAssigned.
func (c *Controller) AcceptJob(ctx context.Context, jobID, contractorID string) (models.Job, error) {
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusOpen {
		return models.Job{}, ErrConflictAlreadyAssigned
	}

	decision, err := c.gate.Eligibility(ctx, contractorID, job)
	if err != nil {
		return models.Job{}, fmt.Errorf("eligibility check: %w", err)
	}
	if !decision.Eligible {
		telemetry.EligibilityDenials.Inc()
		return models.Job{}, &EligibilityDeniedError{Reasons: decision.Reasons}
	}

	now := c.now()
	claimed, err := c.store.ClaimJob(ctx, jobID, contractorID, now, now.Add(c.reviewWindow))
	if errors.Is(err, store.ErrAlreadyClaimed) {
		telemetry.ClaimConflicts.Inc()
		return models.Job{}, ErrConflictAlreadyAssigned
	}
	if err != nil {
		return models.Job{}, err
	}

	telemetry.ClaimsAccepted.Inc()
	_ = c.store.AppendAudit(ctx, jobID, "claimed", fmt.Sprintf("contractor=%s", contractorID))
	c.notifier.JobTransition(ctx, claimed, models.StatusOpen)
	return claimed, nil
}

// TransitionRequest describes one UpdateStatus call. CustomerRating is only
// read on delivered -> paid and may be zero for unrated completions.
type TransitionRequest struct {
	JobID          string
	ActorID        string
	Role           Role
	To             models.JobStatus
	CustomerRating int
}

// UpdateStatus applies a table-listed transition. Wrong current state fails
// with InvalidTransitionError, wrong actor with UnauthorizedError. The paid
// transition records the completion outcome in the trust-event log.
func (c *Controller) UpdateStatus(ctx context.Context, req TransitionRequest) (models.Job, error) {
	job, err := c.store.GetJob(ctx, req.JobID)
	if err != nil {
		return models.Job{}, err
	}
	from := job.Status

	rule := ruleFor(from, req.To)
	if rule == nil {
		return models.Job{}, &InvalidTransitionError{From: from, To: req.To}
	}
	if !rule.allows(req.Role) {
		return models.Job{}, &UnauthorizedError{Role: req.Role, From: from, To: req.To}
	}
	if rule.assigneeOnly && req.Role == RoleContractor {
		if job.AssignedTo == nil || *job.AssignedTo != req.ActorID {
			return models.Job{}, &UnauthorizedError{Role: req.Role, From: from, To: req.To}
		}
	}

	now := c.now().UTC()
	claimant := job.AssignedTo

	switch req.To {
	case models.StatusAssigned:
		job.AssignedAt = &now
		job.LockExpiresAt = nil
	case models.StatusPickedUp:
		job.PickedUpAt = &now
	case models.StatusDelivered:
		job.DeliveredAt = &now
	case models.StatusPaid:
		job.PaidAt = &now
	case models.StatusOpen:
		// Cancellation: clear the claim so a fresh compare-and-set cycle
		// starts from a clean record.
		job.AssignedTo = nil
		job.RequestedAt = nil
		job.AssignedAt = nil
		job.LockExpiresAt = nil
	}
	job.Status = req.To

	// Terminal outcomes carry a trust event. It is persisted with the status
	// change in one store call: the transition must never commit with its
	// event lost, or the completion would be unrecoverable once the job is
	// paid.
	var outcome *models.TrustEvent
	switch req.To {
	case models.StatusPaid:
		if claimant != nil {
			ev := completionEvent(job, *claimant, req.CustomerRating, now)
			outcome = &ev
		}
	case models.StatusOpen:
		if claimant != nil {
			ev := models.TrustEvent{
				ContractorID: *claimant,
				Kind:         models.EventCancelled,
				JobID:        job.ID,
				OccurredAt:   now,
			}
			outcome = &ev
		}
	}

	var updated models.Job
	if outcome != nil {
		updated, err = c.store.UpdateJobWithEvent(ctx, job, *outcome)
	} else {
		updated, err = c.store.UpdateJob(ctx, job)
	}
	if err != nil {
		return models.Job{}, err
	}
	telemetry.Transitions.Inc()
	_ = c.store.AppendAudit(ctx, job.ID, string(req.To), fmt.Sprintf("actor=%s role=%s", req.ActorID, req.Role))

	c.notifier.JobTransition(ctx, updated, from)
	return updated, nil
}

// ReportNoShow reopens an assigned job whose contractor never appeared and
// records the no-show against them. Admin only.
func (c *Controller) ReportNoShow(ctx context.Context, jobID string, role Role) (models.Job, error) {
	if role != RoleAdmin {
		return models.Job{}, &UnauthorizedError{Role: role, From: models.StatusAssigned, To: models.StatusOpen}
	}
	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status != models.StatusAssigned {
		return models.Job{}, &InvalidTransitionError{From: job.Status, To: models.StatusOpen}
	}

	now := c.now().UTC()
	claimant := job.AssignedTo
	job.Status = models.StatusOpen
	job.AssignedTo = nil
	job.RequestedAt = nil
	job.AssignedAt = nil
	job.LockExpiresAt = nil

	var updated models.Job
	if claimant != nil {
		updated, err = c.store.UpdateJobWithEvent(ctx, job, models.TrustEvent{
			ContractorID: *claimant,
			Kind:         models.EventNoShow,
			JobID:        job.ID,
			OccurredAt:   now,
		})
	} else {
		updated, err = c.store.UpdateJob(ctx, job)
	}
	if err != nil {
		return models.Job{}, err
	}
	_ = c.store.AppendAudit(ctx, jobID, "no_show", fmt.Sprintf("contractor=%s", deref(claimant)))

	c.notifier.JobTransition(ctx, updated, models.StatusAssigned)
	return updated, nil
}

// ExpireStaleRequests reverts requested jobs whose admin review window
// lapsed back to open. Claims never pend indefinitely; an absent admin must
// not starve the board. Returns how many were reverted.
func (c *Controller) ExpireStaleRequests(ctx context.Context, limit int) (int, error) {
	now := c.now().UTC()
	stale, err := c.store.StaleRequestedJobs(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for _, job := range stale {
		from := job.Status
		job.Status = models.StatusOpen
		job.AssignedTo = nil
		job.RequestedAt = nil
		job.LockExpiresAt = nil
		updated, err := c.store.UpdateJob(ctx, job)
		if errors.Is(err, store.ErrVersionConflict) {
			// Someone transitioned it since the scan; leave it be.
			continue
		}
		if err != nil {
			return reverted, err
		}
		reverted++
		telemetry.StaleClaimsReverted.Inc()
		_ = c.store.AppendAudit(ctx, job.ID, "claim_expired", "review window passed without admin action")
		c.notifier.JobTransition(ctx, updated, from)
	}
	return reverted, nil
}

// completionEvent derives the on-time outcome from the promised windows and
// stamps the event at the job's paid timestamp, so replays fold in logical
// order.
func completionEvent(job models.Job, contractorID string, rating int, occurredAt time.Time) models.TrustEvent {
	onTime := true
	if !job.PickupWindowEnd.IsZero() && job.PickedUpAt != nil && job.PickedUpAt.After(job.PickupWindowEnd) {
		onTime = false
	}
	if !job.DeliveryWindowEnd.IsZero() && job.DeliveredAt != nil && job.DeliveredAt.After(job.DeliveryWindowEnd) {
		onTime = false
	}
	return models.TrustEvent{
		ContractorID:   contractorID,
		Kind:           models.EventCompleted,
		JobID:          job.ID,
		OnTime:         onTime,
		CustomerRating: rating,
		OccurredAt:     occurredAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
