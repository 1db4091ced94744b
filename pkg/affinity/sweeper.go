package affinity

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper periodically deletes expired lock rows. It is housekeeping only;
// Resolve checks expiry itself on every read.
type Sweeper struct {
	store    *SQLiteStore
	interval time.Duration
	logger   zerolog.Logger
	cron     *cron.Cron
}

// NewSweeper creates a sweeper over the lock store
func NewSweeper(store *SQLiteStore, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep job
func (s *Sweeper) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.sweep); err != nil {
		return fmt.Errorf("failed to schedule lock sweep: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.Info().Dur("interval", s.interval).Msg("Provider lock sweeper started")
	return nil
}

// Stop halts the sweep job and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.cron = nil
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Lock sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Debug().Int64("removed", removed).Msg("Swept expired provider locks")
	}
}
