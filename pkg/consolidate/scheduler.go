package consolidate

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the inactivity sweep every 15 minutes.
const DefaultSweepSchedule = "*/15 * * * *"

// Scheduler runs the periodic inactivity sweep on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	manager *Manager
	logger  zerolog.Logger
}

// NewScheduler creates a sweep scheduler for the manager. The schedule
// is a standard 5-field cron expression.
func NewScheduler(manager *Manager, schedule string, logger zerolog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	c := cron.New()
	s := &Scheduler{cron: c, manager: manager, logger: logger}

	_, err := c.AddFunc(schedule, func() {
		if err := manager.Sweep(context.Background()); err != nil {
			logger.Error().Err(err).Msg("Inactivity sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the sweep schedule in the background.
func (s *Scheduler) Start() {
	s.logger.Info().Msg("Consolidation scheduler started")
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Consolidation scheduler stopped")
}
