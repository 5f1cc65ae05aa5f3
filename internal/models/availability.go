package models

import (
	"time"
)

// Weekday keys for the schedule map, matching what the product stores.
var Weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"}

// DaySchedule is one weekday's committed window. Start and End are "HH:MM"
// wall-clock strings.
type DaySchedule struct {
	Available bool   `json:"available"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

// WeekSchedule maps weekday names to their committed windows.
type WeekSchedule map[string]DaySchedule

// AvailabilityRecord is a contractor's saved weekly pattern plus the
// freely-toggleable currently-available flag. The schedule itself is
// immutable until ScheduleLockedUntil, which is always ScheduleSetAt + 7 days.
type AvailabilityRecord struct {
	ContractorID         string       `json:"contractor_id"`
	Schedule             WeekSchedule `json:"schedule"`
	IsCurrentlyAvailable bool         `json:"is_currently_available"`
	ScheduleSetAt        time.Time    `json:"schedule_set_at"`
	ScheduleLockedUntil  time.Time    `json:"schedule_locked_until"`
	Version              int64        `json:"version"`
}
