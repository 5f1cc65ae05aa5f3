package availability

import (
	"context"
	"errors"
	"time"

	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
	"engagement-engine/internal/telemetry"
)

// Manager applies schedule saves against the store.
type Manager struct {
	store store.Store
	now   func() time.Time
}

// NewManager constructs a manager.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, now: time.Now}
}

// Save persists a save request. When the schedule is locked, the
// currently-available flag update is still written and the returned record
// reflects it; the *ScheduleLockedError is returned alongside so the caller
// reports the lock.
func (m *Manager) Save(ctx context.Context, contractorID string, schedule models.WeekSchedule, currentlyAvailable bool) (models.AvailabilityRecord, error) {
	rec, err := m.store.GetAvailability(ctx, contractorID)
	if err != nil {
		return models.AvailabilityRecord{}, err
	}

	next, saveErr := Save(rec, schedule, currentlyAvailable, m.now().UTC())

	var locked *ScheduleLockedError
	switch {
	case saveErr == nil:
		persisted, err := m.store.SaveAvailability(ctx, next)
		if err != nil {
			return models.AvailabilityRecord{}, err
		}
		telemetry.ScheduleSaves.Inc()
		return persisted, nil
	case errors.As(saveErr, &locked):
		// Flag-only update goes through even while the schedule is locked.
		persisted, err := m.store.SaveAvailability(ctx, next)
		if err != nil {
			return models.AvailabilityRecord{}, err
		}
		telemetry.ScheduleLockRejects.Inc()
		return persisted, saveErr
	default:
		return rec, saveErr
	}
}

// SetCurrentlyAvailable toggles the override flag regardless of lock state.
func (m *Manager) SetCurrentlyAvailable(ctx context.Context, contractorID string, available bool) (models.AvailabilityRecord, error) {
	rec, err := m.store.GetAvailability(ctx, contractorID)
	if err != nil {
		return models.AvailabilityRecord{}, err
	}
	return m.store.SaveAvailability(ctx, SetCurrentlyAvailable(rec, available))
}

// Get returns the contractor's availability record.
func (m *Manager) Get(ctx context.Context, contractorID string) (models.AvailabilityRecord, error) {
	return m.store.GetAvailability(ctx, contractorID)
}
