// Package availability manages a contractor's weekly schedule commitment.
// A saved schedule is immutable for exactly seven days; the
// currently-available flag stays freely toggleable throughout. That
// asymmetry is a product rule: the flag is a temporary override, the
// schedule is the committed weekly pattern.
package availability

import (
	"fmt"
	"time"

	"engagement-engine/internal/models"
)

// LockWindow is how long a saved schedule stays immutable.
const LockWindow = 7 * 24 * time.Hour

// ScheduleLockedError rejects schedule changes attempted before the lock
// expires.
type ScheduleLockedError struct {
	UnlockAt time.Time
}

func (e *ScheduleLockedError) Error() string {
	return fmt.Sprintf("schedule locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

// ValidationError names the schedule field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid schedule field %s: %s", e.Field, e.Reason)
}

// Validate checks every active day parses and has start before end.
func Validate(schedule models.WeekSchedule) error {
	for _, day := range models.Weekdays {
		ds, ok := schedule[day]
		if !ok || !ds.Available {
			continue
		}
		start, err := parseClock(ds.Start)
		if err != nil {
			return &ValidationError{Field: day + ".start", Reason: err.Error()}
		}
		end, err := parseClock(ds.End)
		if err != nil {
			return &ValidationError{Field: day + ".end", Reason: err.Error()}
		}
		if !start.Before(end) {
			return &ValidationError{Field: day, Reason: "start must be before end"}
		}
	}
	return nil
}

// Save applies a save request against the existing record and returns the
// successor snapshot. When the schedule is still locked the returned record
// carries only the flag update alongside a *ScheduleLockedError, so callers
// persist the flag change and surface the lock. A validation failure returns
// the record unchanged.
func Save(existing models.AvailabilityRecord, schedule models.WeekSchedule, currentlyAvailable bool, now time.Time) (models.AvailabilityRecord, error) {
	next := existing
	next.IsCurrentlyAvailable = currentlyAvailable

	if err := Validate(schedule); err != nil {
		return existing, err
	}
	if !existing.ScheduleSetAt.IsZero() && now.Before(existing.ScheduleLockedUntil) {
		return next, &ScheduleLockedError{UnlockAt: existing.ScheduleLockedUntil}
	}

	next.Schedule = cloneSchedule(schedule)
	next.ScheduleSetAt = now
	next.ScheduleLockedUntil = now.Add(LockWindow)
	return next, nil
}

// SetCurrentlyAvailable toggles the override flag. Never subject to the lock.
func SetCurrentlyAvailable(existing models.AvailabilityRecord, available bool) models.AvailabilityRecord {
	next := existing
	next.IsCurrentlyAvailable = available
	return next
}

// WeeklyHours sums the committed hours over days marked available.
func WeeklyHours(schedule models.WeekSchedule) float64 {
	var total time.Duration
	for _, day := range models.Weekdays {
		ds, ok := schedule[day]
		if !ok || !ds.Available {
			continue
		}
		start, err1 := parseClock(ds.Start)
		end, err2 := parseClock(ds.End)
		if err1 != nil || err2 != nil {
			continue
		}
		total += end.Sub(start)
	}
	return total.Hours()
}

func parseClock(v string) (time.Time, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("want HH:MM, got %q", v)
	}
	return t, nil
}

func cloneSchedule(s models.WeekSchedule) models.WeekSchedule {
	out := make(models.WeekSchedule, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
