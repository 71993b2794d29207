package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Ramsey-B/vine/pkg/journey"
	"github.com/Ramsey-B/vine/pkg/logging"
	"github.com/Ramsey-B/vine/pkg/tracing"
)

// ReaperConfig tunes the maintenance schedule
type ReaperConfig struct {
	// CronSchedule is a standard 5-field cron expression
	CronSchedule string
	// Retention is how long terminal executions are kept before purge
	Retention time.Duration
}

// Reaper runs periodic maintenance: releasing leases abandoned by crashed
// workers and purging terminal executions past retention.
type Reaper struct {
	executions journey.ExecutionStore
	logger     logging.Logger
	clock      journey.Clock
	cfg        ReaperConfig
	cron       *cron.Cron
}

// NewReaper creates the maintenance reaper
func NewReaper(executions journey.ExecutionStore, logger logging.Logger, clock journey.Clock, cfg ReaperConfig) *Reaper {
	if cfg.CronSchedule == "" {
		cfg.CronSchedule = "*/5 * * * *"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 90 * 24 * time.Hour
	}
	return &Reaper{
		executions: executions,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
		cron:       cron.New(),
	}
}

// Start schedules the maintenance job
func (r *Reaper) Start(ctx context.Context) error {
	_, err := r.cron.AddFunc(r.cfg.CronSchedule, func() {
		r.Run(ctx)
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.logger.WithFields(map[string]any{
		"schedule":  r.cfg.CronSchedule,
		"retention": r.cfg.Retention.String(),
	}).Info("Reaper started")
	return nil
}

// Stop halts the schedule and waits for a running job to finish
func (r *Reaper) Stop() {
	<-r.cron.Stop().Done()
}

// Run performs one maintenance pass
func (r *Reaper) Run(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Reaper.Run")
	defer span.End()

	now := r.clock.Now()

	released, err := r.executions.ReleaseExpiredLeases(ctx, now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to release expired leases")
	} else if released > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"count": released}).Info("Released expired execution leases")
	}

	purged, err := r.executions.PurgeTerminal(ctx, now.Add(-r.cfg.Retention))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to purge terminal executions")
	} else if purged > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{"count": purged}).Info("Purged terminal executions past retention")
	}
}
