// Package bridge hands async work from request handlers to a fixed pool of
// persistent workers. Each worker owns one Loop that lives across tasks, is
// recreated when found closed, and is torn down at Shutdown.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DEFAULT_WORKERS       = 10
	DEFAULT_QUEUE_PER_WKR = 64
	DEFAULT_MAX_IN_FLIGHT = 64
	DEFAULT_CANCEL_WAIT   = time.Second
)

var (
	ErrPoolClosed      = errors.New("bridge: pool closed")
	ErrPoolOverloaded  = errors.New("bridge: pool queue full")
	ErrShutdownTimeout = errors.New("bridge: tasks abandoned at shutdown")
)

// SchedulingContextError means a worker could not get a usable loop for a task
// even after recreating it once.
type SchedulingContextError struct {
	Worker int
	Err    error
}

func (e *SchedulingContextError) Error() string {
	return fmt.Sprintf("bridge: worker %d has no usable loop: %v", e.Worker, e.Err)
}

func (e *SchedulingContextError) Unwrap() error { return e.Err }

// Task is a unit of async work. ctx is cancelled when the owning loop closes.
type Task func(ctx context.Context) error

// Future resolves once with the task result.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the task has finished or was dropped.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx ends.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Options struct {
	Workers int
	// QueueSize bounds tasks accepted but not yet picked up by a worker.
	QueueSize int
	// MaxInFlight bounds tasks running at once on one loop.
	MaxInFlight int64
	// CancelWait is how long Shutdown waits after cancelling loops.
	CancelWait time.Duration
	Logger     *slog.Logger
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = DEFAULT_WORKERS
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.Workers * DEFAULT_QUEUE_PER_WKR
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DEFAULT_MAX_IN_FLIGHT
	}
	if o.CancelWait <= 0 {
		o.CancelWait = DEFAULT_CANCEL_WAIT
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type job struct {
	task   Task
	future *Future
}

// Pool is a fixed set of workers fed from one bounded queue.
type Pool struct {
	opts Options
	jobs chan job

	// mu makes Submit's closed check and queue send atomic against Shutdown.
	mu     sync.RWMutex
	closed bool

	stopCtx    context.Context
	stopCancel context.CancelFunc

	loopsMu sync.Mutex
	loops   []*Loop
	newLoop func(worker int) (*Loop, error)

	workers      sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewPool starts opts.Workers workers. Loops are created on first use.
func NewPool(opts Options) *Pool {
	opts.setDefaults()
	stopCtx, stopCancel := context.WithCancel(context.Background())
	p := &Pool{
		opts:       opts,
		jobs:       make(chan job, opts.QueueSize),
		stopCtx:    stopCtx,
		stopCancel: stopCancel,
		loops:      make([]*Loop, opts.Workers),
	}
	p.newLoop = func(worker int) (*Loop, error) {
		return NewLoop(worker, opts.MaxInFlight), nil
	}

	p.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go p.work(i)
	}
	return p
}

// Submit enqueues task without blocking.
func (p *Pool) Submit(task Task) (*Future, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	f := newFuture()
	select {
	case p.jobs <- job{task: task, future: f}:
		return f, nil
	default:
		return nil, ErrPoolOverloaded
	}
}

// Loop returns the current loop of a worker, nil before its first task.
func (p *Pool) Loop(worker int) *Loop {
	p.loopsMu.Lock()
	defer p.loopsMu.Unlock()
	if worker < 0 || worker >= len(p.loops) {
		return nil
	}
	return p.loops[worker]
}

func (p *Pool) work(worker int) {
	defer p.workers.Done()
	for {
		select {
		case <-p.stopCtx.Done():
			return
		case j := <-p.jobs:
			p.handle(worker, j)
		}
	}
}

func (p *Pool) handle(worker int, j job) {
	if p.stopCtx.Err() != nil {
		j.future.resolve(ErrPoolClosed)
		return
	}

	loop, err := p.loopFor(worker, false)
	if err == nil {
		err = loop.spawn(p.stopCtx, j)
	}
	if errors.Is(err, errLoopClosed) {
		p.opts.Logger.Warn("worker loop closed, recreating", "worker", worker, "loop", loop.ID)
		loop, err = p.loopFor(worker, true)
		if err == nil {
			err = loop.spawn(p.stopCtx, j)
		}
	}
	if err == nil {
		return
	}

	if p.stopCtx.Err() != nil {
		j.future.resolve(ErrPoolClosed)
		return
	}
	serr := &SchedulingContextError{Worker: worker, Err: err}
	p.opts.Logger.Error("task not scheduled", "worker", worker, "error", err)
	j.future.resolve(serr)
}

// loopFor returns the worker's loop, creating it when missing, closed, or
// when fresh is set.
func (p *Pool) loopFor(worker int, fresh bool) (*Loop, error) {
	p.loopsMu.Lock()
	defer p.loopsMu.Unlock()

	if p.loops == nil {
		return nil, ErrPoolClosed
	}
	if l := p.loops[worker]; l != nil && !fresh && !l.Closed() {
		return l, nil
	}
	if old := p.loops[worker]; old != nil {
		old.Close()
	}
	l, err := p.newLoop(worker)
	if err != nil {
		p.loops[worker] = nil
		return nil, err
	}
	p.loops[worker] = l
	p.opts.Logger.Debug("worker loop created", "worker", worker, "loop", l.ID)
	return l, nil
}

// Shutdown stops accepting work, drops queued tasks, gives running tasks
// grace to finish, then cancels and evicts every loop. Only the first call
// does anything; later calls return the first result.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.shutdownErr = p.shutdown(grace)
	})
	return p.shutdownErr
}

func (p *Pool) shutdown(grace time.Duration) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.stopCancel()
	p.workers.Wait()
	dropped := p.dropQueued()

	p.loopsMu.Lock()
	loops := make([]*Loop, 0, len(p.loops))
	for _, l := range p.loops {
		if l != nil {
			loops = append(loops, l)
		}
	}
	p.loops = nil
	p.loopsMu.Unlock()

	finished := waitLoops(loops, grace)
	for _, l := range loops {
		l.Close()
	}
	if !finished {
		finished = waitLoops(loops, p.opts.CancelWait)
	}

	p.opts.Logger.Info("bridge pool shut down", "loops", len(loops), "dropped", dropped, "clean", finished)
	if !finished {
		return ErrShutdownTimeout
	}
	return nil
}

func (p *Pool) dropQueued() int {
	n := 0
	for {
		select {
		case j := <-p.jobs:
			j.future.resolve(ErrPoolClosed)
			n++
		default:
			return n
		}
	}
}

func waitLoops(loops []*Loop, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		for _, l := range loops {
			l.wait()
		}
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
