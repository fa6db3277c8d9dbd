// Package scheduler debounces dispatches per conversation key.
//
// Every key moves through IDLE -> PENDING -> DISPATCHING and back. A notify
// while PENDING restarts the countdown, so a steady trickle of messages closer
// together than the window never dispatches until the sender goes quiet. A
// notify while DISPATCHING only marks the key dirty; when the dispatch ends the
// key re-enters PENDING instead of starting a second concurrent dispatch.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State of one key.
type State int

const (
	Idle State = iota
	Pending
	Dispatching
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Dispatching:
		return "dispatching"
	}
	return "idle"
}

var (
	ErrStopped     = errors.New("scheduler stopped")
	ErrStopTimeout = errors.New("scheduler stop: dispatches still running after grace period")

	// ErrRunnerClosed is returned by a Runner that will never run again.
	ErrRunnerClosed = errors.New("scheduler runner closed")
)

// DispatchFunc processes the buffered work of one key.
type DispatchFunc func(ctx context.Context, key string) error

// Runner executes dispatches away from the timer goroutine.
// bridge.Pool satisfies it through workers.PoolRunner.
type Runner interface {
	Run(fn func(ctx context.Context)) error
}

// Backlog reports how much work is still buffered for a key.
type Backlog interface {
	Count(ctx context.Context, key string) (int, error)
}

const shardCount = 32

type entry struct {
	state State
	timer *time.Timer
	gen   uint64
	dirty bool
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Scheduler owns the debounce entry table.
type Scheduler struct {
	window   time.Duration
	dispatch DispatchFunc
	runner   Runner
	backlog  Backlog
	logger   *slog.Logger

	shards [shardCount]shard

	ctx    context.Context
	cancel context.CancelFunc

	// runMu orders runner goroutine registration against Stop.
	runMu    sync.Mutex
	wg       sync.WaitGroup
	stopped  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	dispatches atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunner runs dispatches on r instead of a fresh goroutine each.
func WithRunner(r Runner) Option {
	return func(s *Scheduler) { s.runner = r }
}

// WithBacklog lets the scheduler re-check for leftovers after a dispatch.
func WithBacklog(b Backlog) Option {
	return func(s *Scheduler) { s.backlog = b }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler that calls dispatch once per quiet period of
// window for each key.
func New(window time.Duration, dispatch DispatchFunc, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		window:   window,
		dispatch: dispatch,
		logger:   slog.Default(),
		ctx:      ctx,
		cancel:   cancel,
	}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]*entry)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.runner == nil {
		s.runner = goRunner{s}
	}
	return s
}

func (s *Scheduler) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

// Notify records an arrival for key.
func (s *Scheduler) Notify(key string) error {
	if s.stopped.Load() {
		return ErrStopped
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Stop may have cleared this shard since the check above
	if s.stopped.Load() {
		return ErrStopped
	}

	e, ok := sh.entries[key]
	if !ok {
		e = &entry{}
		sh.entries[key] = e
	}

	if e.state == Dispatching {
		e.dirty = true
		return nil
	}
	s.arm(key, e)
	return nil
}

// arm (re)starts the countdown of e. Caller holds the shard lock.
func (s *Scheduler) arm(key string, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen := e.gen
	e.state = Pending
	e.timer = time.AfterFunc(s.window, func() { s.fire(key, gen) })
}

// fire runs when a countdown elapses. A stale generation means the timer was
// reset after it had already been scheduled to run.
func (s *Scheduler) fire(key string, gen uint64) {
	sh := s.shard(key)
	sh.mu.Lock()
	e, ok := sh.entries[key]
	if !ok || e.gen != gen || e.state != Pending {
		sh.mu.Unlock()
		return
	}
	if s.stopped.Load() {
		delete(sh.entries, key)
		sh.mu.Unlock()
		return
	}
	e.state = Dispatching
	e.dirty = false
	e.timer = nil
	sh.mu.Unlock()

	err := s.runner.Run(func(ctx context.Context) { s.run(ctx, key) })
	switch {
	case err == nil:
	case errors.Is(err, ErrRunnerClosed), errors.Is(err, ErrStopped):
		s.logger.Warn("dispatch dropped, runner closed", "key", key, "error", err)
		s.drop(key)
	default:
		s.logger.Warn("dispatch rejected by runner, rescheduling", "key", key, "error", err)
		s.finish(key, true)
	}
}

func (s *Scheduler) run(ctx context.Context, key string) {
	s.dispatches.Add(1)
	start := time.Now()

	err := s.safeDispatch(ctx, key)
	if err != nil {
		s.logger.Error("dispatch failed", "key", key, "stage", "dispatch", "error", err)
	} else {
		s.logger.Debug("dispatch finished", "key", key, "elapsed", time.Since(start))
	}
	s.finish(key, false)
}

func (s *Scheduler) safeDispatch(ctx context.Context, key string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v", r)
		}
	}()
	return s.dispatch(ctx, key)
}

// finish moves key out of DISPATCHING. Leftover work, either reported by the
// backlog or signalled by a notify during the dispatch, re-arms the key.
func (s *Scheduler) finish(key string, rearm bool) {
	leftover := rearm
	if !leftover && s.backlog != nil && !s.stopped.Load() {
		n, err := s.backlog.Count(s.ctx, key)
		if err != nil {
			s.logger.Warn("backlog check failed", "key", key, "error", err)
		}
		leftover = n > 0
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return
	}
	if s.stopped.Load() {
		delete(sh.entries, key)
		return
	}
	if leftover || e.dirty {
		e.dirty = false
		s.arm(key, e)
		return
	}
	delete(sh.entries, key)
}

func (s *Scheduler) drop(key string) {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.entries, key)
	sh.mu.Unlock()
}

// State reports where key is in its cycle.
func (s *Scheduler) State(key string) State {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[key]; ok {
		return e.state
	}
	return Idle
}

// Dispatches counts dispatches started since creation.
func (s *Scheduler) Dispatches() int64 {
	return s.dispatches.Load()
}

// Stop cancels every pending countdown and refuses further notifies. Running
// dispatches started by the default runner get grace to finish before their
// context is cancelled. Later calls return the first call's result.
func (s *Scheduler) Stop(grace time.Duration) error {
	s.stopOnce.Do(func() {
		s.runMu.Lock()
		s.stopped.Store(true)
		s.runMu.Unlock()

		dropped := 0
		for i := range s.shards {
			sh := &s.shards[i]
			sh.mu.Lock()
			for key, e := range sh.entries {
				if e.state == Pending {
					if e.timer != nil {
						e.timer.Stop()
					}
					delete(sh.entries, key)
					dropped++
				}
			}
			sh.mu.Unlock()
		}
		if dropped > 0 {
			s.logger.Info("scheduler stopped with pending keys dropped", "dropped", dropped)
		}

		if !waitTimeout(&s.wg, grace) {
			s.cancel()
			if !waitTimeout(&s.wg, grace) {
				s.stopErr = ErrStopTimeout
			}
		}
		s.cancel()
	})
	return s.stopErr
}

// goRunner starts one goroutine per dispatch, tracked for Stop.
type goRunner struct{ s *Scheduler }

func (r goRunner) Run(fn func(ctx context.Context)) error {
	r.s.runMu.Lock()
	if r.s.stopped.Load() {
		r.s.runMu.Unlock()
		return ErrStopped
	}
	r.s.wg.Add(1)
	r.s.runMu.Unlock()

	go func() {
		defer r.s.wg.Done()
		fn(r.s.ctx)
	}()
	return nil
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
