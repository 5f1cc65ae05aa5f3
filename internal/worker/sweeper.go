// Package worker runs the background sweeps the engine needs: folding
// pending trust events into metric snapshots and reopening claims whose
// admin review window lapsed.
package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"engagement-engine/internal/config"
	"engagement-engine/internal/lifecycle"
	"engagement-engine/internal/store"
	"engagement-engine/internal/telemetry"
	"engagement-engine/internal/trust"
)

// Sweeper drives the periodic maintenance loop.
type Sweeper struct {
	cfg        config.Config
	store      store.Store
	controller *lifecycle.Controller
}

// NewSweeper constructs the sweeper.
func NewSweeper(cfg config.Config, st store.Store, ctrl *lifecycle.Controller) *Sweeper {
	return &Sweeper{cfg: cfg, store: st, controller: ctrl}
}

// Run sweeps on the configured interval until context cancellation.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if reverted, err := s.controller.ExpireStaleRequests(ctx, s.cfg.SweepBatchSize); err != nil {
		log.Printf("sweeper: expire stale requests: %v", err)
	} else if reverted > 0 {
		log.Printf("sweeper: reopened %d stale claims", reverted)
	}

	if applied, err := s.ApplyPendingTrustEvents(ctx); err != nil {
		log.Printf("sweeper: apply trust events: %v", err)
	} else if applied > 0 {
		log.Printf("sweeper: applied %d trust events", applied)
	}

	if open, err := s.store.OpenJobCount(ctx); err == nil {
		telemetry.OpenJobsGauge.Set(float64(open))
	}
}

// ApplyPendingTrustEvents folds unapplied events into metric snapshots in
// per-contractor sequence order. An event whose sequence was already folded
// is marked applied without re-folding, so retried delivery cannot move the
// rating twice; a gap means an earlier event is still pending and the later
// one waits for the next sweep. Lost version races are retried next sweep.
func (s *Sweeper) ApplyPendingTrustEvents(ctx context.Context) (int, error) {
	events, err := s.store.UnappliedTrustEvents(ctx, s.cfg.TrustBatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, ev := range events {
		m, err := s.store.GetTrustMetrics(ctx, ev.ContractorID)
		if err != nil {
			log.Printf("sweeper: metrics for %s: %v", ev.ContractorID, err)
			continue
		}

		switch {
		case ev.Seq <= m.LastSeq:
			// Duplicate delivery of an already-folded event.
			if _, err := s.store.SaveTrustMetrics(ctx, m, ev.ID); err != nil && !errors.Is(err, store.ErrVersionConflict) {
				log.Printf("sweeper: mark duplicate applied: %v", err)
			}
			continue
		case ev.Seq > m.LastSeq+1:
			continue
		}

		next := trust.Apply(m, ev)
		if _, err := s.store.SaveTrustMetrics(ctx, next, ev.ID); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue
			}
			return applied, err
		}
		applied++
		telemetry.TrustEventsApplied.Inc()
	}
	return applied, nil
}
