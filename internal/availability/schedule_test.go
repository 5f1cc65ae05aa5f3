package availability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engagement-engine/internal/models"
	"engagement-engine/internal/store"
)

func weekdaySchedule() models.WeekSchedule {
	return models.WeekSchedule{
		"monday":    {Available: true, Start: "08:00", End: "17:00"},
		"tuesday":   {Available: true, Start: "08:00", End: "17:00"},
		"wednesday": {Available: true, Start: "08:00", End: "17:00"},
		"thursday":  {Available: true, Start: "08:00", End: "17:00"},
		"friday":    {Available: true, Start: "08:00", End: "17:00"},
	}
}

func TestValidateRejectsBadWindows(t *testing.T) {
	bad := models.WeekSchedule{
		"monday": {Available: true, Start: "17:00", End: "08:00"},
	}
	err := Validate(bad)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "monday", verr.Field)

	unparseable := models.WeekSchedule{
		"tuesday": {Available: true, Start: "8am", End: "17:00"},
	}
	require.ErrorAs(t, Validate(unparseable), &verr)
	assert.Equal(t, "tuesday.start", verr.Field)

	// Inactive days are not validated.
	off := models.WeekSchedule{
		"sunday": {Available: false, Start: "bogus", End: ""},
	}
	assert.NoError(t, Validate(off))
}

func TestSaveSetsSevenDayLockExactly(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	rec, err := Save(models.AvailabilityRecord{ContractorID: "c1"}, weekdaySchedule(), true, now)
	require.NoError(t, err)

	assert.Equal(t, now, rec.ScheduleSetAt)
	assert.Equal(t, now.Add(7*24*time.Hour), rec.ScheduleLockedUntil)
	assert.True(t, rec.IsCurrentlyAvailable)
}

func TestSaveRejectsWhileLockedButUpdatesFlag(t *testing.T) {
	setAt := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing, err := Save(models.AvailabilityRecord{ContractorID: "c1"}, weekdaySchedule(), true, setAt)
	require.NoError(t, err)

	// One second before unlock the schedule is still immutable.
	attempt := setAt.Add(7*24*time.Hour - time.Second)
	changed := weekdaySchedule()
	changed["saturday"] = models.DaySchedule{Available: true, Start: "10:00", End: "14:00"}

	rec, err := Save(existing, changed, false, attempt)
	var locked *ScheduleLockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, existing.ScheduleLockedUntil, locked.UnlockAt)

	// The flag update went through; the schedule did not.
	assert.False(t, rec.IsCurrentlyAvailable)
	assert.Equal(t, existing.Schedule, rec.Schedule)
	assert.Equal(t, existing.ScheduleSetAt, rec.ScheduleSetAt)

	// At the unlock instant the save succeeds and re-locks.
	unlocked, err := Save(existing, changed, true, existing.ScheduleLockedUntil)
	require.NoError(t, err)
	assert.Contains(t, unlocked.Schedule, "saturday")
	assert.Equal(t, existing.ScheduleLockedUntil.Add(7*24*time.Hour), unlocked.ScheduleLockedUntil)
}

func TestWeeklyHours(t *testing.T) {
	assert.Equal(t, 45.0, WeeklyHours(weekdaySchedule()))
	assert.Equal(t, 0.0, WeeklyHours(models.WeekSchedule{}))
}

func TestManagerPersistsFlagWhileLocked(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateContractor(ctx, models.ContractorProfile{ID: "c1"}, time.Now()))

	mgr := NewManager(st)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	mgr.now = func() time.Time { return base }

	_, err := mgr.Save(ctx, "c1", weekdaySchedule(), true)
	require.NoError(t, err)

	mgr.now = func() time.Time { return base.Add(24 * time.Hour) }
	rec, err := mgr.Save(ctx, "c1", weekdaySchedule(), false)
	var locked *ScheduleLockedError
	require.ErrorAs(t, err, &locked)
	assert.False(t, rec.IsCurrentlyAvailable)

	// The flag change survived in the store.
	stored, err := st.GetAvailability(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, stored.IsCurrentlyAvailable)
	assert.Equal(t, base, stored.ScheduleSetAt)

	// Toggling the flag alone always works.
	toggled, err := mgr.SetCurrentlyAvailable(ctx, "c1", true)
	require.NoError(t, err)
	assert.True(t, toggled.IsCurrentlyAvailable)
}
