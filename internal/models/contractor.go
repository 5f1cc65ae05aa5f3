package models

import (
	"time"
)

// AccountStatus is the tier derived from the trust rating. It gates job
// acceptance at the compliance gate, never at the UI layer.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountWarning   AccountStatus = "warning"
	AccountProbation AccountStatus = "probation"
	AccountSuspended AccountStatus = "suspended"
)

// TrustMetrics is an immutable snapshot of a contractor's reliability
// counters. Only the trust engine produces new snapshots; they are persisted
// with a version compare-and-swap.
type TrustMetrics struct {
	ContractorID     string        `json:"contractor_id"`
	TrustRating      float64       `json:"trust_rating"`
	TotalJobs        int           `json:"total_jobs"`
	CompletedJobs    int           `json:"completed_jobs"`
	CancelledJobs    int           `json:"cancelled_jobs"`
	NoShowJobs       int           `json:"no_show_jobs"`
	OnTimeRate       float64       `json:"on_time_rate"`
	CustomerRating   float64       `json:"customer_rating"`
	AccountStatus    AccountStatus `json:"account_status"`
	LastRatingUpdate time.Time     `json:"last_rating_update"`
	LastSeq          int64         `json:"last_seq"`
	Version          int64         `json:"version"`
}

// TrustEventKind enumerates job outcomes that move the trust rating.
type TrustEventKind string

const (
	EventCompleted TrustEventKind = "completed"
	EventCancelled TrustEventKind = "cancelled"
	EventNoShow    TrustEventKind = "no_show"
)

// TrustEvent is one job outcome in a contractor's event log. Seq is assigned
// per contractor at insert; events must be folded in Seq order so replaying
// the stream always lands on the same snapshot.
type TrustEvent struct {
	ID             int64          `json:"id"`
	ContractorID   string         `json:"contractor_id"`
	Seq            int64          `json:"seq"`
	Kind           TrustEventKind `json:"kind"`
	JobID          string         `json:"job_id"`
	OnTime         bool           `json:"on_time"`
	CustomerRating int            `json:"customer_rating"` // 1-5, 0 when unrated
	OccurredAt     time.Time      `json:"occurred_at"`
	Applied        bool           `json:"applied"`
}

// ContractorProfile carries the capability inputs the compliance gate reads.
type ContractorProfile struct {
	ID              string   `json:"id"`
	Capabilities    []string `json:"capabilities"`
	ExperienceYears int      `json:"experience_years"`
}

// BackgroundCheckResult is produced by the external verification provider and
// consumed read-only. A missing result is treated as ineligible.
type BackgroundCheckResult struct {
	Status        string    `json:"status"`         // pending, in_progress, completed, failed
	OverallResult string    `json:"overall_result"` // pass, fail, review_required
	ExpiryDate    time.Time `json:"expiry_date"`
	IsValid       bool      `json:"is_valid"`
}

// EngagementTerms holds a company's configured repeat-engagement discounts.
type EngagementTerms struct {
	CompanyID              string  `json:"company_id"`
	ConsistencyDiscountPct float64 `json:"consistency_discount_pct"` // 5-10
	MinConsecutiveJobs     int     `json:"min_consecutive_jobs"`
	LongTermContractPct    float64 `json:"long_term_contract_pct"` // 5-15
}

// PairOutcome is one entry in a (company, contractor) job history, ordered by
// when the outcome occurred.
type PairOutcome struct {
	JobID      string         `json:"job_id"`
	Kind       TrustEventKind `json:"kind"`
	OccurredAt time.Time      `json:"occurred_at"`
}
