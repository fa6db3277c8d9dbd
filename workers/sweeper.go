package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc removes expired entries and reports how many went away.
type SweepFunc func(ctx context.Context) (int, error)

// Sweeper runs every target on a fixed interval until stopped.
type Sweeper struct {
	interval time.Duration
	targets  map[string]SweepFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func NewSweeper(interval time.Duration, targets map[string]SweepFunc, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{interval: interval, targets: targets, logger: logger}
}

// Start launches the ticker loop. The loop ends with ctx or Stop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

func (s *Sweeper) sweep(ctx context.Context) {
	for name, fn := range s.targets {
		n, err := fn(ctx)
		if err != nil {
			s.logger.Warn("sweep failed", "target", name, "error", err)
			continue
		}
		if n > 0 {
			s.logger.Debug("expired entries removed", "target", name, "removed", n)
		}
	}
}

// Stop ends the loop and waits for the sweep in progress.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}
