package models

import (
	"time"
)

// JobStatus is the closed set of lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusOpen      JobStatus = "open"
	StatusRequested JobStatus = "requested"
	StatusAssigned  JobStatus = "assigned"
	StatusPickedUp  JobStatus = "picked_up"
	StatusDelivered JobStatus = "delivered"
	StatusPaid      JobStatus = "paid"
)

// Job represents a transport posting. AssignedTo is non-nil exactly while the
// status is requested or later; reopening a job clears it.
type Job struct {
	ID                   string     `json:"id"`
	CompanyID            string     `json:"company_id"`
	Origin               string     `json:"origin"`
	Destination          string     `json:"destination"`
	DistanceMiles        float64    `json:"distance_miles"`
	RateCents            int64      `json:"rate_cents"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	MinExperienceYears   int        `json:"min_experience_years"`
	PickupWindowEnd      time.Time  `json:"pickup_window_end"`
	DeliveryWindowEnd    time.Time  `json:"delivery_window_end"`
	Status               JobStatus  `json:"status"`
	AssignedTo           *string    `json:"assigned_to,omitempty"`
	RequestedAt          *time.Time `json:"requested_at,omitempty"`
	AssignedAt           *time.Time `json:"assigned_at,omitempty"`
	PickedUpAt           *time.Time `json:"picked_up_at,omitempty"`
	DeliveredAt          *time.Time `json:"delivered_at,omitempty"`
	PaidAt               *time.Time `json:"paid_at,omitempty"`
	LockExpiresAt        *time.Time `json:"lock_expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	Version              int64      `json:"version"`
}

// AuditLog is a simple audit event row recorded on job transitions.
type AuditLog struct {
	JobID    string    `json:"job_id"`
	Event    string    `json:"event"`
	Detail   string    `json:"detail"`
	Recorded time.Time `json:"recorded_at"`
}
