package continuity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the sweep hourly.
const DefaultSweepSchedule = "@every 1h"

// Sweeper periodically deletes snapshots older than the staleness window.
type Sweeper struct {
	store     Store
	retention time.Duration
	logger    *slog.Logger
	cron      *cron.Cron
	now       func() time.Time
}

// NewSweeper schedules a sweep on the given cron spec.
func NewSweeper(store Store, retention time.Duration, schedule string, logger *slog.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("sweeper requires a store")
	}
	if retention <= 0 {
		retention = DefaultMaxStaleness
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sweeper{
		store:     store,
		retention: retention,
		logger:    logger.With("component", "continuity-sweeper"),
		cron:      cron.New(),
		now:       time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warn("continuity sweep failed", "error", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce sweeps immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	removed, err := s.store.Sweep(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.Info("continuity sweep removed stale snapshots", "removed", removed)
	}
	return removed, nil
}
