package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"engagement-engine/internal/models"
)

// Postgres wraps pgxpool for persistence.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const jobColumns = `id, company_id, origin, destination, distance_miles, rate_cents,
	required_capabilities, min_experience_years, pickup_window_end, delivery_window_end,
	status, assigned_to, requested_at, assigned_at, picked_up_at, delivered_at, paid_at,
	lock_expires_at, created_at, updated_at, version`

// CreateJob inserts an open posting, assigning an id when absent.
func (s *Postgres) CreateJob(ctx context.Context, job models.Job) (models.Job, error) {
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

	caps, err := json.Marshal(job.RequiredCapabilities)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal capabilities: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, company_id, origin, destination, distance_miles, rate_cents,
			required_capabilities, min_experience_years, pickup_window_end, delivery_window_end,
			status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, 1)
	`, job.ID, job.CompanyID, job.Origin, job.Destination, job.DistanceMiles, job.RateCents,
		caps, job.MinExperienceYears, job.PickupWindowEnd, job.DeliveryWindowEnd, job.Status, now)
	if err != nil {
		return models.Job{}, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimJob performs the open -> requested compare-and-set keyed by job id.
// The WHERE status = 'open' clause is the linearization point: exactly one
// concurrent update matches the row.
func (s *Postgres) ClaimJob(ctx context.Context, jobID, contractorID string, now, lockExpires time.Time) (models.Job, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, assigned_to = $3, requested_at = $4, lock_expires_at = $5,
			updated_at = $4, version = version + 1
		WHERE id = $1 AND status = $6
	`, jobID, models.StatusRequested, contractorID, now.UTC(), lockExpires.UTC(), models.StatusOpen)
	if err != nil {
		return models.Job{}, fmt.Errorf("claim job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, jobID); errors.Is(err, ErrNotFound) {
			return models.Job{}, ErrNotFound
		}
		return models.Job{}, ErrAlreadyClaimed
	}
	return s.GetJob(ctx, jobID)
}

// UpdateJob writes the snapshot guarded by its version.
func (s *Postgres) UpdateJob(ctx context.Context, job models.Job) (models.Job, error) {
	if err := s.updateJob(ctx, s.pool, job); err != nil {
		return models.Job{}, err
	}
	return s.GetJob(ctx, job.ID)
}

// UpdateJobWithEvent writes the snapshot and appends the outcome event in one
// transaction. A lost sequence race on the event insert aborts the whole
// transaction and is retried, so the status change can never commit without
// its event.
func (s *Postgres) UpdateJobWithEvent(ctx context.Context, job models.Job, ev models.TrustEvent) (models.Job, error) {
	for attempt := 0; attempt < seqInsertAttempts; attempt++ {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return models.Job{}, fmt.Errorf("begin tx: %w", err)
		}

		if err := s.updateJob(ctx, tx, job); err != nil {
			_ = tx.Rollback(ctx)
			return models.Job{}, err
		}
		if _, err := appendTrustEvent(ctx, tx, ev); err != nil {
			_ = tx.Rollback(ctx)
			if isUniqueViolation(err) {
				continue
			}
			return models.Job{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return models.Job{}, fmt.Errorf("commit: %w", err)
		}
		return s.GetJob(ctx, job.ID)
	}
	return models.Job{}, fmt.Errorf("append trust event: sequence contention for %s", ev.ContractorID)
}

type execQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) updateJob(ctx context.Context, db execQuerier, job models.Job) error {
	tag, err := db.Exec(ctx, `
		UPDATE jobs
		SET status = $2, assigned_to = $3, requested_at = $4, assigned_at = $5,
			picked_up_at = $6, delivered_at = $7, paid_at = $8, lock_expires_at = $9,
			updated_at = NOW(), version = version + 1
		WHERE id = $1 AND version = $10
	`, job.ID, job.Status, job.AssignedTo, job.RequestedAt, job.AssignedAt,
		job.PickedUpAt, job.DeliveredAt, job.PaidAt, job.LockExpiresAt, job.Version)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, job.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// StaleRequestedJobs lists requested jobs whose review window expired.
func (s *Postgres) StaleRequestedJobs(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = $1 AND lock_expires_at IS NOT NULL AND lock_expires_at <= $2
		ORDER BY lock_expires_at
		LIMIT $3
	`, models.StatusRequested, cutoff.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query stale requests: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale request: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// OpenJobCount counts claimable postings.
func (s *Postgres) OpenJobCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE status = $1
	`, models.StatusOpen).Scan(&n); err != nil {
		return 0, fmt.Errorf("count open jobs: %w", err)
	}
	return n, nil
}

// AppendAudit adds an audit row.
func (s *Postgres) AppendAudit(ctx context.Context, jobID, event, detail string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (job_id, event, detail, ts)
		VALUES ($1, $2, $3, NOW())
	`, jobID, event, detail)
	return err
}

// GetTrustMetrics fetches the current snapshot for a contractor.
func (s *Postgres) GetTrustMetrics(ctx context.Context, contractorID string) (models.TrustMetrics, error) {
	var m models.TrustMetrics
	err := s.pool.QueryRow(ctx, `
		SELECT contractor_id, trust_rating, total_jobs, completed_jobs, cancelled_jobs,
			no_show_jobs, on_time_rate, customer_rating, account_status, last_rating_update,
			last_seq, version
		FROM trust_metrics WHERE contractor_id = $1
	`, contractorID).Scan(&m.ContractorID, &m.TrustRating, &m.TotalJobs, &m.CompletedJobs,
		&m.CancelledJobs, &m.NoShowJobs, &m.OnTimeRate, &m.CustomerRating, &m.AccountStatus,
		&m.LastRatingUpdate, &m.LastSeq, &m.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TrustMetrics{}, ErrNotFound
	}
	if err != nil {
		return models.TrustMetrics{}, fmt.Errorf("get trust metrics: %w", err)
	}
	return m, nil
}

// SaveTrustMetrics persists a snapshot with a version CAS and marks the
// folded event applied inside the same transaction, so a replayed event can
// never be applied twice.
func (s *Postgres) SaveTrustMetrics(ctx context.Context, m models.TrustMetrics, appliedEventID int64) (models.TrustMetrics, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.TrustMetrics{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	tag, err := tx.Exec(ctx, `
		UPDATE trust_metrics
		SET trust_rating = $2, total_jobs = $3, completed_jobs = $4, cancelled_jobs = $5,
			no_show_jobs = $6, on_time_rate = $7, customer_rating = $8, account_status = $9,
			last_rating_update = $10, last_seq = $11, version = version + 1
		WHERE contractor_id = $1 AND version = $12
	`, m.ContractorID, m.TrustRating, m.TotalJobs, m.CompletedJobs, m.CancelledJobs,
		m.NoShowJobs, m.OnTimeRate, m.CustomerRating, m.AccountStatus, m.LastRatingUpdate,
		m.LastSeq, m.Version)
	if err != nil {
		return models.TrustMetrics{}, fmt.Errorf("update trust metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.TrustMetrics{}, ErrVersionConflict
	}

	if appliedEventID != 0 {
		if _, err := tx.Exec(ctx, `
			UPDATE trust_events SET applied = TRUE WHERE id = $1
		`, appliedEventID); err != nil {
			return models.TrustMetrics{}, fmt.Errorf("mark event applied: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return models.TrustMetrics{}, fmt.Errorf("commit: %w", err)
	}
	m.Version++
	return m, nil
}

// seqInsertAttempts bounds retries when two inserts race for the same
// per-contractor sequence number.
const seqInsertAttempts = 3

// AppendTrustEvent inserts an event, assigning the next per-contractor
// sequence. The unique (contractor_id, seq) constraint turns a concurrent
// insert race into a conflict, which is retried here until a fresh sequence
// is won.
func (s *Postgres) AppendTrustEvent(ctx context.Context, ev models.TrustEvent) (models.TrustEvent, error) {
	var lastErr error
	for attempt := 0; attempt < seqInsertAttempts; attempt++ {
		inserted, err := appendTrustEvent(ctx, s.pool, ev)
		if err == nil {
			return inserted, nil
		}
		if !isUniqueViolation(err) {
			return models.TrustEvent{}, err
		}
		lastErr = err
	}
	return models.TrustEvent{}, lastErr
}

func appendTrustEvent(ctx context.Context, db execQuerier, ev models.TrustEvent) (models.TrustEvent, error) {
	err := db.QueryRow(ctx, `
		INSERT INTO trust_events (contractor_id, seq, kind, job_id, on_time, customer_rating, occurred_at, applied)
		VALUES ($1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM trust_events WHERE contractor_id = $1),
			$2, $3, $4, $5, $6, FALSE)
		RETURNING id, seq
	`, ev.ContractorID, ev.Kind, ev.JobID, ev.OnTime, ev.CustomerRating, ev.OccurredAt.UTC()).
		Scan(&ev.ID, &ev.Seq)
	if err != nil {
		return models.TrustEvent{}, fmt.Errorf("append trust event: %w", err)
	}
	return ev, nil
}

// isUniqueViolation reports a Postgres unique-constraint error (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// UnappliedTrustEvents returns pending events in fold order.
func (s *Postgres) UnappliedTrustEvents(ctx context.Context, limit int) ([]models.TrustEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, contractor_id, seq, kind, job_id, on_time, customer_rating, occurred_at, applied
		FROM trust_events
		WHERE applied = FALSE
		ORDER BY contractor_id, seq
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unapplied events: %w", err)
	}
	defer rows.Close()

	var events []models.TrustEvent
	for rows.Next() {
		var ev models.TrustEvent
		if err := rows.Scan(&ev.ID, &ev.ContractorID, &ev.Seq, &ev.Kind, &ev.JobID,
			&ev.OnTime, &ev.CustomerRating, &ev.OccurredAt, &ev.Applied); err != nil {
			return nil, fmt.Errorf("scan trust event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetAvailability fetches a contractor's availability record.
func (s *Postgres) GetAvailability(ctx context.Context, contractorID string) (models.AvailabilityRecord, error) {
	var rec models.AvailabilityRecord
	var scheduleJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT contractor_id, schedule, is_currently_available, schedule_set_at, schedule_locked_until, version
		FROM availability WHERE contractor_id = $1
	`, contractorID).Scan(&rec.ContractorID, &scheduleJSON, &rec.IsCurrentlyAvailable,
		&rec.ScheduleSetAt, &rec.ScheduleLockedUntil, &rec.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.AvailabilityRecord{}, ErrNotFound
	}
	if err != nil {
		return models.AvailabilityRecord{}, fmt.Errorf("get availability: %w", err)
	}
	if err := json.Unmarshal(scheduleJSON, &rec.Schedule); err != nil {
		return models.AvailabilityRecord{}, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return rec, nil
}

// SaveAvailability writes the record guarded by its version.
func (s *Postgres) SaveAvailability(ctx context.Context, rec models.AvailabilityRecord) (models.AvailabilityRecord, error) {
	scheduleJSON, err := json.Marshal(rec.Schedule)
	if err != nil {
		return models.AvailabilityRecord{}, fmt.Errorf("marshal schedule: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE availability
		SET schedule = $2, is_currently_available = $3, schedule_set_at = $4,
			schedule_locked_until = $5, version = version + 1
		WHERE contractor_id = $1 AND version = $6
	`, rec.ContractorID, scheduleJSON, rec.IsCurrentlyAvailable, rec.ScheduleSetAt,
		rec.ScheduleLockedUntil, rec.Version)
	if err != nil {
		return models.AvailabilityRecord{}, fmt.Errorf("save availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.AvailabilityRecord{}, ErrVersionConflict
	}
	rec.Version++
	return rec, nil
}

// GetContractorProfile fetches the capability inputs for the gate.
func (s *Postgres) GetContractorProfile(ctx context.Context, id string) (models.ContractorProfile, error) {
	var p models.ContractorProfile
	var capsJSON []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, capabilities, experience_years FROM contractors WHERE id = $1
	`, id).Scan(&p.ID, &capsJSON, &p.ExperienceYears)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ContractorProfile{}, ErrNotFound
	}
	if err != nil {
		return models.ContractorProfile{}, fmt.Errorf("get contractor: %w", err)
	}
	if err := json.Unmarshal(capsJSON, &p.Capabilities); err != nil {
		return models.ContractorProfile{}, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return p, nil
}

// CreateContractor registers a profile and seeds the contractor's trust
// metrics and availability record in one transaction.
func (s *Postgres) CreateContractor(ctx context.Context, profile models.ContractorProfile, now time.Time) error {
	capsJSON, err := json.Marshal(profile.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	scheduleJSON, err := json.Marshal(models.WeekSchedule{})
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO contractors (id, capabilities, experience_years)
		VALUES ($1, $2, $3)
	`, profile.ID, capsJSON, profile.ExperienceYears); err != nil {
		return fmt.Errorf("insert contractor: %w", err)
	}

	seed := NewTrustMetrics(profile.ID, now.UTC())
	if _, err := tx.Exec(ctx, `
		INSERT INTO trust_metrics (contractor_id, trust_rating, total_jobs, completed_jobs,
			cancelled_jobs, no_show_jobs, on_time_rate, customer_rating, account_status,
			last_rating_update, last_seq, version)
		VALUES ($1, $2, 0, 0, 0, 0, $3, 0, $4, $5, 0, 1)
	`, seed.ContractorID, seed.TrustRating, seed.OnTimeRate, seed.AccountStatus, seed.LastRatingUpdate); err != nil {
		return fmt.Errorf("seed trust metrics: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO availability (contractor_id, schedule, is_currently_available,
			schedule_set_at, schedule_locked_until, version)
		VALUES ($1, $2, FALSE, $3, $3, 1)
	`, profile.ID, scheduleJSON, time.Time{}.UTC()); err != nil {
		return fmt.Errorf("seed availability: %w", err)
	}

	return tx.Commit(ctx)
}

// GetEngagementTerms fetches a company's configured discounts.
func (s *Postgres) GetEngagementTerms(ctx context.Context, companyID string) (models.EngagementTerms, error) {
	var t models.EngagementTerms
	err := s.pool.QueryRow(ctx, `
		SELECT company_id, consistency_discount_pct, min_consecutive_jobs, long_term_contract_pct
		FROM engagement_terms WHERE company_id = $1
	`, companyID).Scan(&t.CompanyID, &t.ConsistencyDiscountPct, &t.MinConsecutiveJobs, &t.LongTermContractPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.EngagementTerms{}, ErrNotFound
	}
	if err != nil {
		return models.EngagementTerms{}, fmt.Errorf("get engagement terms: %w", err)
	}
	return t, nil
}

// PutEngagementTerms upserts a company's discount configuration.
func (s *Postgres) PutEngagementTerms(ctx context.Context, terms models.EngagementTerms) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO engagement_terms (company_id, consistency_discount_pct, min_consecutive_jobs, long_term_contract_pct)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (company_id) DO UPDATE
		SET consistency_discount_pct = $2, min_consecutive_jobs = $3, long_term_contract_pct = $4
	`, terms.CompanyID, terms.ConsistencyDiscountPct, terms.MinConsecutiveJobs, terms.LongTermContractPct)
	return err
}

// HasDedicatedContract reports whether the pair has an explicit contract row.
func (s *Postgres) HasDedicatedContract(ctx context.Context, companyID, contractorID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM dedicated_contracts WHERE company_id = $1 AND contractor_id = $2)
	`, companyID, contractorID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dedicated contract: %w", err)
	}
	return exists, nil
}

// PutDedicatedContract records an explicit long-term contract for the pair.
func (s *Postgres) PutDedicatedContract(ctx context.Context, companyID, contractorID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dedicated_contracts (company_id, contractor_id, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (company_id, contractor_id) DO NOTHING
	`, companyID, contractorID)
	return err
}

// PairHistory derives the (company, contractor) outcome history from the
// trust-event log joined against the pair's jobs.
func (s *Postgres) PairHistory(ctx context.Context, companyID, contractorID string) ([]models.PairOutcome, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.job_id, e.kind, e.occurred_at
		FROM trust_events e
		JOIN jobs j ON j.id = e.job_id
		WHERE j.company_id = $1 AND e.contractor_id = $2
		ORDER BY e.occurred_at, e.seq
	`, companyID, contractorID)
	if err != nil {
		return nil, fmt.Errorf("query pair history: %w", err)
	}
	defer rows.Close()

	var history []models.PairOutcome
	for rows.Next() {
		var h models.PairOutcome
		if err := rows.Scan(&h.JobID, &h.Kind, &h.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan pair history: %w", err)
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (models.Job, error) {
	var job models.Job
	var capsJSON []byte
	var assignedTo pgtype.Text

	err := row.Scan(&job.ID, &job.CompanyID, &job.Origin, &job.Destination, &job.DistanceMiles,
		&job.RateCents, &capsJSON, &job.MinExperienceYears, &job.PickupWindowEnd,
		&job.DeliveryWindowEnd, &job.Status, &assignedTo, &job.RequestedAt, &job.AssignedAt,
		&job.PickedUpAt, &job.DeliveredAt, &job.PaidAt, &job.LockExpiresAt,
		&job.CreatedAt, &job.UpdatedAt, &job.Version)
	if err != nil {
		return models.Job{}, err
	}
	if err := json.Unmarshal(capsJSON, &job.RequiredCapabilities); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	if assignedTo.Valid {
		job.AssignedTo = &assignedTo.String
	}
	return job, nil
}
