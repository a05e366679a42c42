package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig controls the periodic sweep cadence.
type SchedulerConfig struct {
	// Interval between sweeps (default 24h).
	Interval time.Duration
	// InitialDelay before the first sweep (defaults to Interval).
	InitialDelay time.Duration
}

const defaultSweepInterval = 24 * time.Hour

// Scheduler runs Monitor sweeps on a fixed interval until its context ends.
type Scheduler struct {
	cfg     SchedulerConfig
	monitor *Monitor
	logger  *zap.Logger
}

// NewScheduler builds a Scheduler for the given monitor.
func NewScheduler(cfg SchedulerConfig, monitor *Monitor, logger *zap.Logger) (*Scheduler, error) {
	if monitor == nil {
		return nil, fmt.Errorf("monitor is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = cfg.Interval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{cfg: cfg, monitor: monitor, logger: logger.Named("sweep-scheduler")}, nil
}

// Run blocks, sweeping on the configured interval, until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := s.monitor.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("scheduled sweep failed", zap.Error(err))
		}
		timer.Reset(s.cfg.Interval)
	}
}
