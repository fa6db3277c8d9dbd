package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"penelope-batcher/bridge"
	"penelope-batcher/mailbox"
	"penelope-batcher/models"
	"penelope-batcher/scheduler"
)

const DEFAULT_WINDOW = 3 * time.Second
const DEFAULT_SHUTDOWN_GRACE = 10 * time.Second
const DEFAULT_SWEEP_INTERVAL = 30 * time.Second

type ServiceOptions struct {
	// Window is the quiet period that closes a batch.
	Window          time.Duration
	Workers         int
	QueueSize       int
	MaxInFlight     int64
	ShutdownGrace   time.Duration
	SweepInterval   time.Duration
	HistoryLimit    int
	DispatchTimeout time.Duration
	Logger          *slog.Logger
}

func (o *ServiceOptions) setDefaults() {
	if o.Window <= 0 {
		o.Window = DEFAULT_WINDOW
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DEFAULT_SHUTDOWN_GRACE
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DEFAULT_SWEEP_INTERVAL
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Service wires the mailbox, the debounce scheduler, the worker pool and the
// dispatcher. Handlers only ever call Enqueue.
type Service struct {
	opts       ServiceOptions
	pool       *bridge.Pool
	mailbox    *mailbox.Mailbox
	history    HistoryStore
	scheduler  *scheduler.Scheduler
	dispatcher *Dispatcher
	sweeper    *Sweeper
	logger     *slog.Logger
}

func NewService(mb *mailbox.Mailbox, hist HistoryStore, responder Responder, gateway Gateway, opts ServiceOptions) *Service {
	opts.setDefaults()
	logger := opts.Logger

	pool := bridge.NewPool(bridge.Options{
		Workers:     opts.Workers,
		QueueSize:   opts.QueueSize,
		MaxInFlight: opts.MaxInFlight,
		Logger:      logger.With("component", "bridge"),
	})

	d := &Dispatcher{
		Mailbox:      mb,
		History:      hist,
		Responder:    responder,
		Gateway:      gateway,
		HistoryLimit: opts.HistoryLimit,
		Timeout:      opts.DispatchTimeout,
		Logger:       logger.With("component", "dispatcher"),
	}

	sched := scheduler.New(opts.Window, d.Process,
		scheduler.WithRunner(PoolRunner{Pool: pool}),
		scheduler.WithBacklog(mb),
		scheduler.WithLogger(logger.With("component", "scheduler")),
	)

	targets := map[string]SweepFunc{"mailbox": mb.Sweep}
	if p, ok := hist.(interface {
		Purge(ctx context.Context) (int, error)
	}); ok {
		targets["history"] = p.Purge
	}

	return &Service{
		opts:       opts,
		pool:       pool,
		mailbox:    mb,
		history:    hist,
		scheduler:  sched,
		dispatcher: d,
		sweeper:    NewSweeper(opts.SweepInterval, targets, logger.With("component", "sweeper")),
		logger:     logger,
	}
}

// Start launches background maintenance. The pool is already running.
func (s *Service) Start(ctx context.Context) {
	s.sweeper.Start(ctx)
	s.logger.Info("batching service started", "window", s.opts.Window)
}

// Enqueue hands an inbound event to the pool and returns at once. The error
// is non-nil only when the pool refused the work.
func (s *Service) Enqueue(key string, payload []byte) error {
	ev := models.NewEvent(key, payload)
	_, err := s.pool.Submit(func(ctx context.Context) error {
		return s.addEventAndSchedule(ctx, ev)
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	return nil
}

func (s *Service) addEventAndSchedule(ctx context.Context, ev models.Event) error {
	if err := s.mailbox.Append(ctx, ev.Key, ev); err != nil {
		s.logger.Error("event not buffered", "key", ev.Key, "event", ev.ID, "stage", "append", "error", err)
		return err
	}
	if err := s.scheduler.Notify(ev.Key); err != nil {
		s.logger.Warn("event buffered but not scheduled", "key", ev.Key, "event", ev.ID, "error", err)
	}
	return nil
}

// State reports the debounce state of key.
func (s *Service) State(key string) scheduler.State {
	return s.scheduler.State(key)
}

// Pending counts events waiting in the mailbox of key.
func (s *Service) Pending(ctx context.Context, key string) (int, error) {
	return s.mailbox.Count(ctx, key)
}

// History returns the latest records of key, oldest first.
func (s *Service) History(ctx context.Context, key string, limit int) ([]models.Record, error) {
	return s.history.Recent(ctx, key, limit)
}

// Stop shuts down in dependency order: no new dispatches, then the pool with
// its grace period, then maintenance.
func (s *Service) Stop() error {
	var errs []error
	if err := s.scheduler.Stop(s.opts.ShutdownGrace); err != nil {
		errs = append(errs, err)
	}
	if err := s.pool.Shutdown(s.opts.ShutdownGrace); err != nil {
		errs = append(errs, err)
	}
	s.sweeper.Stop()
	s.logger.Info("batching service stopped")
	return errors.Join(errs...)
}

// PoolRunner runs scheduler dispatches on a bridge pool.
type PoolRunner struct {
	Pool *bridge.Pool
}

func (r PoolRunner) Run(fn func(ctx context.Context)) error {
	_, err := r.Pool.Submit(func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
	if errors.Is(err, bridge.ErrPoolClosed) {
		return fmt.Errorf("%w: %w", scheduler.ErrRunnerClosed, err)
	}
	return err
}
