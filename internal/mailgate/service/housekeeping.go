package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaypost/mailgate/internal/mailgate/ratelimit"
	"github.com/relaypost/mailgate/internal/mailgate/store"
)

// HousekeepingService periodically trims aged audit records, purges
// long-deactivated keys and evicts idle rate-limit state.
type HousekeepingService struct {
	Store   store.Store
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger

	Interval          time.Duration
	AuditRetention    time.Duration
	InactiveRetention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. Zero durations
// fall back to one hour interval, 90 day audit retention and 30 day
// inactive-key retention.
func NewHousekeepingService(s store.Store, limiter *ratelimit.Limiter, logger *slog.Logger, interval, auditRetention, inactiveRetention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = time.Hour
	}
	if auditRetention <= 0 {
		auditRetention = 90 * 24 * time.Hour
	}
	if inactiveRetention <= 0 {
		inactiveRetention = 30 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:             s,
		Limiter:           limiter,
		Logger:            logger,
		Interval:          interval,
		AuditRetention:    auditRetention,
		InactiveRetention: inactiveRetention,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}
}

// Start begins the background worker. Call Stop to shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop shuts down the worker, blocking until any in-progress cleanup
// finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs each task independently so one failure does not stop
// the others.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	now := time.Now().UTC()
	s.Logger.Info("starting housekeeping cleanup")

	if n, err := s.Store.AuditLogs().DeleteBefore(ctx, now.Add(-s.AuditRetention)); err != nil {
		s.Logger.Error("failed to trim audit logs", "error", err)
	} else if n > 0 {
		s.Logger.Debug("trimmed audit logs", "deleted", n)
	}

	if n, err := s.Store.APIKeys().PurgeInactiveBefore(ctx, now.Add(-s.InactiveRetention)); err != nil {
		s.Logger.Error("failed to purge inactive keys", "error", err)
	} else if n > 0 {
		s.Logger.Debug("purged inactive keys", "deleted", n)
	}

	if s.Limiter != nil {
		if n := s.Limiter.Sweep(); n > 0 {
			s.Logger.Debug("evicted idle rate-limit entries", "evicted", n)
		}
	}

	s.Logger.Info("housekeeping cleanup completed")
}
