package compliance

import (
	"context"
	"log/slog"
	"time"

	"attribledger/native/agreement"
)

// ArtifactSource resolves the latest produced artifact set for an agreement.
// The generation pipeline pushes snapshots through the gateway; agreements
// without a snapshot yet are skipped.
type ArtifactSource interface {
	ArtifactsFor(agreementID string) (ArtifactSet, bool)
}

// Scheduler periodically evaluates every active agreement. It is the explicit
// replacement for ad hoc interval timers: one loop, one tick, one evaluation
// pass per active agreement.
type Scheduler struct {
	monitor  *Monitor
	store    *agreement.Store
	source   ArtifactSource
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler constructs a scheduler with the supplied evaluation cadence.
func NewScheduler(monitor *Monitor, store *agreement.Store, source ArtifactSource, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		monitor:  monitor,
		store:    store,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Run evaluates on every tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s == nil || s.monitor == nil || s.store == nil || s.source == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one evaluation pass over every active agreement. Exposed so the
// gateway can trigger an on-demand pass alongside the timer.
func (s *Scheduler) Sweep(ctx context.Context) {
	agreements, err := s.store.List()
	if err != nil {
		s.logger.Error("compliance sweep: list agreements", "error", err)
		return
	}
	for _, ag := range agreements {
		if ctx.Err() != nil {
			return
		}
		if ag.LifecycleState != agreement.StateDeployed && ag.LifecycleState != agreement.StateViolated {
			continue
		}
		artifacts, ok := s.source.ArtifactsFor(ag.AgreementID)
		if !ok {
			continue
		}
		record, err := s.monitor.Evaluate(ag.AgreementID, artifacts)
		if err != nil {
			s.logger.Error("compliance sweep: evaluate", "agreementId", ag.AgreementID, "error", err)
			continue
		}
		s.logger.Info("compliance evaluated",
			"agreementId", ag.AgreementID,
			"score", record.Score,
			"violations", len(record.Violations))
	}
}
