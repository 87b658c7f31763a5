package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrSyncInProgress is returned when a trigger arrives while a run holds the
// scheduler's gate.
var ErrSyncInProgress = errors.New("sync already in progress")

// DefaultInterval is the default period between scheduled incremental runs.
const DefaultInterval = time.Hour

// Runner is the unit of work the scheduler drives.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Scheduler periodically triggers incremental sync runs. A mutex gate
// enforces one run at a time; concurrent runs would race on checkpoint
// updates. Manual triggers share the same gate.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      zerolog.Logger

	gate stdsync.Mutex
}

// NewScheduler creates a scheduler around a sync runner.
func NewScheduler(runner Runner, interval time.Duration, log zerolog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start runs a sync immediately and then on every tick until the context is
// canceled. It blocks; run it in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("scheduler started")

	s.runOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// Trigger runs one sync if none is in flight, returning ErrSyncInProgress
// otherwise. It blocks until the run finishes.
func (s *Scheduler) Trigger(ctx context.Context) (*Result, error) {
	if !s.gate.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.gate.Unlock()
	return s.runner.Run(ctx)
}

// TriggerAsync starts a sync in the background if none is in flight,
// returning ErrSyncInProgress otherwise. The run's outcome is logged.
func (s *Scheduler) TriggerAsync(ctx context.Context) error {
	if !s.gate.TryLock() {
		return ErrSyncInProgress
	}
	go func() {
		defer s.gate.Unlock()
		result, err := s.runner.Run(ctx)
		if err != nil {
			s.log.Error().Err(err).Msg("triggered sync failed")
			return
		}
		s.log.Info().Int("events_added", result.EventsAdded).Msg("triggered sync finished")
	}()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.Trigger(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.log.Warn().Msg("skipping scheduled run, previous run still in flight")
	case err != nil:
		s.log.Error().Err(err).Msg("scheduled sync failed")
	default:
		s.log.Info().Int("events_added", result.EventsAdded).Msg("scheduled sync finished")
	}
}
