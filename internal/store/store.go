// Package store persists the engagement engine's records. Two
// implementations share the same compare-and-swap semantics: Postgres for
// production and an in-memory store for tests and local development.
package store

import (
	"context"
	"errors"
	"time"

	"engagement-engine/internal/models"
)

var (
	// ErrNotFound reports a missing record.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict reports a lost compare-and-swap on a versioned row.
	ErrVersionConflict = errors.New("version conflict")
	// ErrAlreadyClaimed reports a lost claim race: the job left the open
	// state between read and write.
	ErrAlreadyClaimed = errors.New("job already claimed")
)

// Store is the persistence surface consumed by the lifecycle controller, the
// compliance gate, the incentive calculator, and the sweeper.
type Store interface {
	CreateJob(ctx context.Context, job models.Job) (models.Job, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	// ClaimJob is the atomic open -> requested compare-and-set. Exactly one
	// concurrent caller wins; losers get ErrAlreadyClaimed.
	ClaimJob(ctx context.Context, jobID, contractorID string, now, lockExpires time.Time) (models.Job, error)
	// UpdateJob writes a job snapshot guarded by its version.
	UpdateJob(ctx context.Context, job models.Job) (models.Job, error)
	// UpdateJobWithEvent writes the job snapshot and appends the outcome
	// event atomically: either both land or neither does, so a transition
	// can never be persisted with its trust event lost.
	UpdateJobWithEvent(ctx context.Context, job models.Job, ev models.TrustEvent) (models.Job, error)
	// StaleRequestedJobs lists requested jobs whose admin review window
	// passed before the cutoff.
	StaleRequestedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	OpenJobCount(ctx context.Context) (int64, error)

	AppendAudit(ctx context.Context, jobID, event, detail string) error

	GetTrustMetrics(ctx context.Context, contractorID string) (models.TrustMetrics, error)
	// SaveTrustMetrics persists a snapshot guarded by its version and marks
	// the folded event applied in the same transaction.
	SaveTrustMetrics(ctx context.Context, m models.TrustMetrics, appliedEventID int64) (models.TrustMetrics, error)
	// AppendTrustEvent assigns the per-contractor sequence number at insert.
	AppendTrustEvent(ctx context.Context, ev models.TrustEvent) (models.TrustEvent, error)
	// UnappliedTrustEvents returns pending events ordered by contractor and
	// sequence so folding preserves logical order.
	UnappliedTrustEvents(ctx context.Context, limit int) ([]models.TrustEvent, error)

	GetAvailability(ctx context.Context, contractorID string) (models.AvailabilityRecord, error)
	SaveAvailability(ctx context.Context, rec models.AvailabilityRecord) (models.AvailabilityRecord, error)

	GetContractorProfile(ctx context.Context, id string) (models.ContractorProfile, error)
	// CreateContractor registers a profile and seeds its trust metrics and
	// availability record.
	CreateContractor(ctx context.Context, profile models.ContractorProfile, now time.Time) error

	GetEngagementTerms(ctx context.Context, companyID string) (models.EngagementTerms, error)
	PutEngagementTerms(ctx context.Context, terms models.EngagementTerms) error
	HasDedicatedContract(ctx context.Context, companyID, contractorID string) (bool, error)
	PutDedicatedContract(ctx context.Context, companyID, contractorID string) error
	// PairHistory returns the (company, contractor) outcome history ordered
	// oldest first.
	PairHistory(ctx context.Context, companyID, contractorID string) ([]models.PairOutcome, error)
}

// NewTrustMetrics seeds the snapshot a contractor starts with at onboarding.
func NewTrustMetrics(contractorID string, now time.Time) models.TrustMetrics {
	return models.TrustMetrics{
		ContractorID:     contractorID,
		TrustRating:      100,
		OnTimeRate:       100,
		AccountStatus:    models.AccountActive,
		LastRatingUpdate: now,
		Version:          1,
	}
}
