package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"engagement-engine/internal/availability"
	"engagement-engine/internal/checkcache"
	"engagement-engine/internal/compliance"
	"engagement-engine/internal/config"
	"engagement-engine/internal/incentive"
	"engagement-engine/internal/lifecycle"
	"engagement-engine/internal/models"
	"engagement-engine/internal/ratelimit"
	"engagement-engine/internal/store"
	"engagement-engine/internal/telemetry"
)

// Server wires HTTP handlers for the engagement engine.
type Server struct {
	cfg        config.Config
	store      store.Store
	controller *lifecycle.Controller
	gate       *compliance.Gate
	schedules  *availability.Manager
	incentives *incentive.Calculator
	checks     *checkcache.Cache
	limiter    *ratelimit.TokenBucket
	validate   *validator.Validate
}

// New constructs the API server. The check cache and limiter may be nil in
// tests that exercise only the Postgres-backed paths.
func New(cfg config.Config, st store.Store, ctrl *lifecycle.Controller, gate *compliance.Gate,
	schedules *availability.Manager, inc *incentive.Calculator, checks *checkcache.Cache,
	limiter *ratelimit.TokenBucket) *Server {
	return &Server{
		cfg:        cfg,
		store:      st,
		controller: ctrl,
		gate:       gate,
		schedules:  schedules,
		incentives: inc,
		checks:     checks,
		limiter:    limiter,
		validate:   validator.New(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Post("/jobs", s.handleCreateJob)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Post("/jobs/{id}/accept", s.handleAccept)
	r.Post("/jobs/{id}/status", s.handleUpdateStatus)
	r.Post("/jobs/{id}/no-show", s.handleNoShow)

	r.Post("/contractors", s.handleCreateContractor)
	r.Put("/contractors/{id}/availability", s.handleSaveAvailability)
	r.Get("/contractors/{id}/availability", s.handleGetAvailability)
	r.Get("/contractors/{id}/eligibility", s.handleEligibility)
	r.Get("/contractors/{id}/trust", s.handleGetTrust)
	r.Put("/contractors/{id}/background-check", s.handlePutBackgroundCheck)

	r.Put("/companies/{id}/terms", s.handlePutTerms)
	r.Post("/companies/{id}/contracts/{contractorID}", s.handlePutContract)
	r.Get("/incentives", s.handleIncentive)

	return r
}

type createJobRequest struct {
	CompanyID            string    `json:"company_id" validate:"required"`
	Origin               string    `json:"origin" validate:"required"`
	Destination          string    `json:"destination" validate:"required"`
	DistanceMiles        float64   `json:"distance_miles" validate:"gte=0"`
	RateCents            int64     `json:"rate_cents" validate:"gte=0"`
	RequiredCapabilities []string  `json:"required_capabilities"`
	MinExperienceYears   int       `json:"min_experience_years" validate:"gte=0"`
	PickupWindowEnd      time.Time `json:"pickup_window_end"`
	DeliveryWindowEnd    time.Time `json:"delivery_window_end"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.store.CreateJob(r.Context(), models.Job{
		CompanyID:            req.CompanyID,
		Origin:               req.Origin,
		Destination:          req.Destination,
		DistanceMiles:        req.DistanceMiles,
		RateCents:            req.RateCents,
		RequiredCapabilities: req.RequiredCapabilities,
		MinExperienceYears:   req.MinExperienceYears,
		PickupWindowEnd:      req.PickupWindowEnd,
		DeliveryWindowEnd:    req.DeliveryWindowEnd,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type acceptRequest struct {
	ContractorID string `json:"contractor_id" validate:"required"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), req.ContractorID)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.RateLimitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, err := s.controller.AcceptJob(r.Context(), chi.URLParam(r, "id"), req.ContractorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type statusRequest struct {
	ActorID        string `json:"actor_id" validate:"required"`
	Role           string `json:"role" validate:"required,oneof=contractor admin billing"`
	Status         string `json:"status" validate:"required"`
	CustomerRating int    `json:"customer_rating" validate:"gte=0,lte=5"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.controller.UpdateStatus(r.Context(), lifecycle.TransitionRequest{
		JobID:          chi.URLParam(r, "id"),
		ActorID:        req.ActorID,
		Role:           lifecycle.Role(req.Role),
		To:             models.JobStatus(req.Status),
		CustomerRating: req.CustomerRating,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type noShowRequest struct {
	Role string `json:"role" validate:"required"`
}

func (s *Server) handleNoShow(w http.ResponseWriter, r *http.Request) {
	var req noShowRequest
	if !s.decode(w, r, &req) {
		return
	}
	job, err := s.controller.ReportNoShow(r.Context(), chi.URLParam(r, "id"), lifecycle.Role(req.Role))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type createContractorRequest struct {
	ID              string   `json:"id" validate:"required"`
	Capabilities    []string `json:"capabilities"`
	ExperienceYears int      `json:"experience_years" validate:"gte=0"`
}

func (s *Server) handleCreateContractor(w http.ResponseWriter, r *http.Request) {
	var req createContractorRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.store.CreateContractor(r.Context(), models.ContractorProfile{
		ID:              req.ID,
		Capabilities:    req.Capabilities,
		ExperienceYears: req.ExperienceYears,
	}, time.Now())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": req.ID})
}

type saveAvailabilityRequest struct {
	Schedule             models.WeekSchedule `json:"schedule" validate:"required"`
	IsCurrentlyAvailable bool                `json:"is_currently_available"`
}

func (s *Server) handleSaveAvailability(w http.ResponseWriter, r *http.Request) {
	var req saveAvailabilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.schedules.Save(r.Context(), chi.URLParam(r, "id"), req.Schedule, req.IsCurrentlyAvailable)
	var locked *availability.ScheduleLockedError
	if errors.As(err, &locked) {
		// The flag update was persisted; report the lock with the record.
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":     "schedule locked",
			"unlock_at": locked.UnlockAt,
			"record":    rec,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	rec, err := s.schedules.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"record":       rec,
		"weekly_hours": availability.WeeklyHours(rec.Schedule),
	})
}

func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		http.Error(w, "job_id is required", http.StatusBadRequest)
		return
	}
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	decision, err := s.gate.Eligibility(r.Context(), chi.URLParam(r, "id"), job)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetTrustMetrics(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

type backgroundCheckRequest struct {
	Status        string    `json:"status" validate:"required,oneof=pending in_progress completed failed"`
	OverallResult string    `json:"overall_result" validate:"required,oneof=pass fail review_required"`
	ExpiryDate    time.Time `json:"expiry_date" validate:"required"`
	IsValid       bool      `json:"is_valid"`
}

// handlePutBackgroundCheck receives provider pushes. The engine only ever
// reads this cache; it never calls the provider.
func (s *Server) handlePutBackgroundCheck(w http.ResponseWriter, r *http.Request) {
	var req backgroundCheckRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.checks == nil {
		http.Error(w, "check cache unavailable", http.StatusServiceUnavailable)
		return
	}
	err := s.checks.Put(r.Context(), chi.URLParam(r, "id"), models.BackgroundCheckResult{
		Status:        req.Status,
		OverallResult: req.OverallResult,
		ExpiryDate:    req.ExpiryDate,
		IsValid:       req.IsValid,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cached"})
}

type termsRequest struct {
	ConsistencyDiscountPct float64 `json:"consistency_discount_pct" validate:"gte=5,lte=10"`
	MinConsecutiveJobs     int     `json:"min_consecutive_jobs" validate:"gt=0"`
	LongTermContractPct    float64 `json:"long_term_contract_pct" validate:"gte=5,lte=15"`
}

func (s *Server) handlePutTerms(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if !s.decode(w, r, &req) {
		return
	}
	terms := models.EngagementTerms{
		CompanyID:              chi.URLParam(r, "id"),
		ConsistencyDiscountPct: req.ConsistencyDiscountPct,
		MinConsecutiveJobs:     req.MinConsecutiveJobs,
		LongTermContractPct:    req.LongTermContractPct,
	}
	if !incentive.ValidTerms(terms) {
		http.Error(w, "discounts out of bounds", http.StatusBadRequest)
		return
	}
	if err := s.store.PutEngagementTerms(r.Context(), terms); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, terms)
}

func (s *Server) handlePutContract(w http.ResponseWriter, r *http.Request) {
	err := s.store.PutDedicatedContract(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "contractorID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
}

func (s *Server) handleIncentive(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	contractorID := r.URL.Query().Get("contractor_id")
	if companyID == "" || contractorID == "" {
		http.Error(w, "company_id and contractor_id are required", http.StatusBadRequest)
		return
	}
	rate, err := s.incentives.ComputeIncentive(r.Context(), companyID, contractorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"rate": rate})
}

// decode unmarshals and validates a request body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// writeError maps the domain error taxonomy onto HTTP statuses. Eligibility
// denials carry the full reasons list so the UI can show every deficiency.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		invalid  *lifecycle.InvalidTransitionError
		unauth   *lifecycle.UnauthorizedError
		denied   *lifecycle.EligibilityDeniedError
		badField *availability.ValidationError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrConflictAlreadyAssigned):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrVersionConflict):
		// A concurrent writer got there first; the caller re-reads and
		// retries, same as any other contention outcome.
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &invalid):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &unauth):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.As(err, &denied):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "not eligible",
			"reasons": denied.Reasons,
		})
	case errors.As(err, &badField):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
