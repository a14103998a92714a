// Package cleanup enforces history retention: terminal sessions older than
// the configured window are deleted from the audit store.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/tarsy-oss/tarsy/pkg/audit"
)

// DefaultInterval is the sweep cadence.
const DefaultInterval = 6 * time.Hour

// Service is the background retention sweeper. All operations are
// idempotent; a retention of 0 days disables the sweeper.
type Service struct {
	store         audit.Store
	retentionDays int
	interval      time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a sweeper. interval <= 0 uses DefaultInterval.
func NewService(store audit.Store, retentionDays int, interval time.Duration) *Service {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Service{
		store:         store,
		retentionDays: retentionDays,
		interval:      interval,
	}
}

// Start launches the background sweep loop. No-op when retention is disabled.
func (s *Service) Start(ctx context.Context) {
	if s.retentionDays <= 0 {
		slog.Info("History retention disabled, sweeper not started")
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)

	slog.Info("Retention sweeper started",
		"retention_days", s.retentionDays, "interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// One sweep at startup, then on every tick
	s.SweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce deletes terminal sessions older than the retention window.
func (s *Service) SweepOnce(ctx context.Context) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays).UnixMicro()

	deleted, err := s.store.DeleteSessionsBefore(ctx, cutoff)
	if err != nil {
		slog.Error("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention sweep removed sessions", "deleted", deleted)
	}
}
