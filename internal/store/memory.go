package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"engagement-engine/internal/models"
)

// Memory is an in-process Store with the same compare-and-swap semantics as
// the Postgres implementation. Used by tests and local development.
type Memory struct {
	mu        sync.Mutex
	jobs      map[string]models.Job
	metrics   map[string]models.TrustMetrics
	events    []models.TrustEvent
	nextEvent int64
	avail     map[string]models.AvailabilityRecord
	profiles  map[string]models.ContractorProfile
	terms     map[string]models.EngagementTerms
	contracts map[[2]string]bool
	audits    []models.AuditLog
}

var _ Store = (*Memory)(nil)

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]models.Job),
		metrics:   make(map[string]models.TrustMetrics),
		avail:     make(map[string]models.AvailabilityRecord),
		profiles:  make(map[string]models.ContractorProfile),
		terms:     make(map[string]models.EngagementTerms),
		contracts: make(map[[2]string]bool),
	}
}

func (s *Memory) CreateJob(_ context.Context, job models.Job) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.StatusOpen
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.Version = 1
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return job, nil
}

func (s *Memory) ClaimJob(_ context.Context, jobID, contractorID string, now, lockExpires time.Time) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if job.Status != models.StatusOpen {
		return models.Job{}, ErrAlreadyClaimed
	}
	requestedAt := now.UTC()
	expires := lockExpires.UTC()
	job.Status = models.StatusRequested
	job.AssignedTo = &contractorID
	job.RequestedAt = &requestedAt
	job.LockExpiresAt = &expires
	job.UpdatedAt = requestedAt
	job.Version++
	s.jobs[jobID] = job
	return job, nil
}

func (s *Memory) UpdateJob(_ context.Context, job models.Job) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateJobLocked(job)
}

func (s *Memory) UpdateJobWithEvent(_ context.Context, job models.Job, ev models.TrustEvent) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated, err := s.updateJobLocked(job)
	if err != nil {
		return models.Job{}, err
	}
	s.appendEventLocked(ev)
	return updated, nil
}

func (s *Memory) updateJobLocked(job models.Job) (models.Job, error) {
	current, ok := s.jobs[job.ID]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	if current.Version != job.Version {
		return models.Job{}, ErrVersionConflict
	}
	job.UpdatedAt = time.Now().UTC()
	job.Version++
	s.jobs[job.ID] = job
	return job, nil
}

func (s *Memory) StaleRequestedJobs(_ context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []models.Job
	for _, job := range s.jobs {
		if job.Status == models.StatusRequested && job.LockExpiresAt != nil && !job.LockExpiresAt.After(cutoff) {
			stale = append(stale, job)
		}
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].LockExpiresAt.Before(*stale[j].LockExpiresAt)
	})
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (s *Memory) OpenJobCount(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Status == models.StatusOpen {
			n++
		}
	}
	return n, nil
}

func (s *Memory) AppendAudit(_ context.Context, jobID, event, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, models.AuditLog{JobID: jobID, Event: event, Detail: detail, Recorded: time.Now().UTC()})
	return nil
}

func (s *Memory) GetTrustMetrics(_ context.Context, contractorID string) (models.TrustMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.metrics[contractorID]
	if !ok {
		return models.TrustMetrics{}, ErrNotFound
	}
	return m, nil
}

func (s *Memory) SaveTrustMetrics(_ context.Context, m models.TrustMetrics, appliedEventID int64) (models.TrustMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.metrics[m.ContractorID]
	if !ok {
		return models.TrustMetrics{}, ErrNotFound
	}
	if current.Version != m.Version {
		return models.TrustMetrics{}, ErrVersionConflict
	}
	m.Version++
	s.metrics[m.ContractorID] = m
	if appliedEventID != 0 {
		for i := range s.events {
			if s.events[i].ID == appliedEventID {
				s.events[i].Applied = true
			}
		}
	}
	return m, nil
}

func (s *Memory) AppendTrustEvent(_ context.Context, ev models.TrustEvent) (models.TrustEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEventLocked(ev), nil
}

func (s *Memory) appendEventLocked(ev models.TrustEvent) models.TrustEvent {
	s.nextEvent++
	ev.ID = s.nextEvent
	var maxSeq int64
	for _, e := range s.events {
		if e.ContractorID == ev.ContractorID && e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}
	ev.Seq = maxSeq + 1
	ev.Applied = false
	s.events = append(s.events, ev)
	return ev
}

func (s *Memory) UnappliedTrustEvents(_ context.Context, limit int) ([]models.TrustEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.TrustEvent
	for _, ev := range s.events {
		if !ev.Applied {
			pending = append(pending, ev)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].ContractorID != pending[j].ContractorID {
			return pending[i].ContractorID < pending[j].ContractorID
		}
		return pending[i].Seq < pending[j].Seq
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Memory) GetAvailability(_ context.Context, contractorID string) (models.AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.avail[contractorID]
	if !ok {
		return models.AvailabilityRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *Memory) SaveAvailability(_ context.Context, rec models.AvailabilityRecord) (models.AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.avail[rec.ContractorID]
	if !ok {
		return models.AvailabilityRecord{}, ErrNotFound
	}
	if current.Version != rec.Version {
		return models.AvailabilityRecord{}, ErrVersionConflict
	}
	rec.Version++
	s.avail[rec.ContractorID] = rec
	return rec, nil
}

func (s *Memory) GetContractorProfile(_ context.Context, id string) (models.ContractorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return models.ContractorProfile{}, ErrNotFound
	}
	return p, nil
}

func (s *Memory) CreateContractor(_ context.Context, profile models.ContractorProfile, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile
	s.metrics[profile.ID] = NewTrustMetrics(profile.ID, now.UTC())
	s.avail[profile.ID] = models.AvailabilityRecord{
		ContractorID: profile.ID,
		Schedule:     models.WeekSchedule{},
		Version:      1,
	}
	return nil
}

func (s *Memory) GetEngagementTerms(_ context.Context, companyID string) (models.EngagementTerms, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terms[companyID]
	if !ok {
		return models.EngagementTerms{}, ErrNotFound
	}
	return t, nil
}

func (s *Memory) PutEngagementTerms(_ context.Context, terms models.EngagementTerms) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terms[terms.CompanyID] = terms
	return nil
}

func (s *Memory) HasDedicatedContract(_ context.Context, companyID, contractorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts[[2]string{companyID, contractorID}], nil
}

func (s *Memory) PutDedicatedContract(_ context.Context, companyID, contractorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contracts[[2]string{companyID, contractorID}] = true
	return nil
}

func (s *Memory) PairHistory(_ context.Context, companyID, contractorID string) ([]models.PairOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var history []models.PairOutcome
	for _, ev := range s.events {
		if ev.ContractorID != contractorID {
			continue
		}
		job, ok := s.jobs[ev.JobID]
		if !ok || job.CompanyID != companyID {
			continue
		}
		history = append(history, models.PairOutcome{JobID: ev.JobID, Kind: ev.Kind, OccurredAt: ev.OccurredAt})
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].OccurredAt.Before(history[j].OccurredAt)
	})
	return history, nil
}

// SetEventSeq overrides a stored event's sequence number. Test helper for
// simulating out-of-order and duplicate delivery.
func (s *Memory) SetEventSeq(id, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			s.events[i].Seq = seq
			return nil
		}
	}
	return ErrNotFound
}

// Audits returns recorded audit rows, newest last. Test helper.
func (s *Memory) Audits() []models.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, len(s.audits))
	copy(out, s.audits)
	return out
}
