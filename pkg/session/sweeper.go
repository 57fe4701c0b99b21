package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the idle sweep runs.
const DefaultSweepInterval = 5 * time.Minute

// Sweeper runs the registry's idle sweep on a fixed schedule.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewSweeper creates a sweeper for the registry.
func NewSweeper(registry *Registry, interval time.Duration, logger zerolog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep. A sweep failure is logged per iteration; the
// schedule itself only stops on Stop.
func (s *Sweeper) Start() error {
	if s.cron != nil {
		return fmt.Errorf("sweeper is already running")
	}

	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runOnce)
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	c.Start()
	s.cron = c

	s.logger.Info().Dur("interval", s.interval).Msg("Session sweeper started")
	return nil
}

// Stop cancels the schedule and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.cron = nil

	s.logger.Info().Msg("Session sweeper stopped")
}

// Running reports whether the sweeper is scheduled.
func (s *Sweeper) Running() bool {
	return s.cron != nil
}

func (s *Sweeper) runOnce() {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().Interface("panic", rec).Msg("Session sweep panicked")
		}
	}()

	s.registry.Sweep()
}
