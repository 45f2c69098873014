package lifecycle

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepSchedule runs the expiry sweep once a second.
const DefaultSweepSchedule = "@every 1s"

// Sweeper runs ExpireStaleSessions on a cron schedule.
type Sweeper struct {
	controller *Controller
	cron       *cron.Cron
	logger     zerolog.Logger
}

// NewSweeper parses schedule (standard five-field cron or a descriptor such as "@every 1s")
// and registers the sweep job. Call Start to begin running it.
func NewSweeper(controller *Controller, schedule string, logger zerolog.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}

	s := &Sweeper{
		controller: controller,
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger.With().Str("component", "sweeper").Logger(),
	}

	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	return s, nil
}

// Start begins background sweeps.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info().Msg("expiry sweeper started")
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) sweep() {
	ctx := s.logger.WithContext(context.Background())

	expired, err := s.controller.ExpireStaleSessions(ctx, s.controller.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("expiry sweep failed")
	}
	if expired > 0 {
		s.logger.Debug().Int("expired", expired).Msg("expiry sweep finished")
	}
}
