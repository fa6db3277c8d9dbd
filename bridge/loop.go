package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

var errLoopClosed = errors.New("bridge: loop closed")

// Loop is the execution context a worker runs its tasks on. Tasks share the
// loop's context and at most MaxInFlight of them run at once.
type Loop struct {
	ID     string
	Worker int

	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	tasks  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewLoop(worker int, maxInFlight int64) *Loop {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loop{
		ID:     uuid.NewString(),
		Worker: worker,
		ctx:    ctx,
		cancel: cancel,
		sem:    semaphore.NewWeighted(maxInFlight),
	}
}

// Close cancels the loop context. Running tasks see it through ctx; no new
// task is accepted afterwards.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cancel()
}

func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// spawn starts j on the loop once a slot frees up. wait aborts the slot wait.
func (l *Loop) spawn(wait context.Context, j job) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return errLoopClosed
	}
	l.tasks.Add(1)
	l.mu.Unlock()

	if err := l.sem.Acquire(wait, 1); err != nil {
		l.tasks.Done()
		return err
	}

	go func() {
		defer l.tasks.Done()
		defer l.sem.Release(1)
		j.future.resolve(l.run(j.task))
	}()
	return nil
}

func (l *Loop) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("bridge: task panic: %v", r)
		}
	}()
	return task(l.ctx)
}

func (l *Loop) wait() {
	l.tasks.Wait()
}
