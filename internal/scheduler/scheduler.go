package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Ticker is driven by the scheduler. Tick must be safe for concurrent use and
// return false when it skipped because a previous tick is still running.
type Ticker interface {
	Tick(ctx context.Context) bool
	CheckInterval() time.Duration
}

// Scheduler invokes Tick immediately and then once per check interval.
type Scheduler struct {
	ticker Ticker
	logger *slog.Logger
	wg     sync.WaitGroup
}

// New creates a new Scheduler. Pass nil logger to use the default logger.
func New(t Ticker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		ticker: t,
		logger: logger,
	}
}

// Start spawns the timer goroutine. It is non-blocking.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Wait blocks until the timer goroutine and every running tick have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	// Run immediately.
	s.fire(ctx)

	// The interval is re-read every period so runtime changes apply on the next one.
	timer := time.NewTimer(s.ticker.CheckInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(s.ticker.CheckInterval())
		}
	}
}

// fire runs a tick in its own goroutine so a slow probe never delays the
// timer; overlapping ticks are rejected by the Ticker itself.
func (s *Scheduler) fire(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if !s.ticker.Tick(ctx) {
			s.logger.Debug("tick skipped, probe still in flight")
		}
	}()
}
