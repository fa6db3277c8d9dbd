package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func wait(t *testing.T, f *Future) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("future did not resolve")
	}
	return err
}

func TestSubmitRunsTask(t *testing.T) {
	p := NewPool(Options{Workers: 2})
	defer p.Shutdown(time.Second)

	var ran atomic.Bool
	f, err := p.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := wait(t, f); err != nil {
		t.Fatalf("task error: %v", err)
	}
	if !ran.Load() {
		t.Error("task did not run")
	}
}

func TestTaskErrorAndPanicReachFuture(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	defer p.Shutdown(time.Second)

	boom := errors.New("boom")
	f, _ := p.Submit(func(ctx context.Context) error { return boom })
	if err := wait(t, f); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}

	f, _ = p.Submit(func(ctx context.Context) error { panic("bad task") })
	if err := wait(t, f); err == nil {
		t.Error("panic was not turned into an error")
	}

	// the loop keeps working after a panic
	f, _ = p.Submit(func(ctx context.Context) error { return nil })
	if err := wait(t, f); err != nil {
		t.Errorf("task after panic: %v", err)
	}
}

func TestLoopReusedAcrossTasks(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	defer p.Shutdown(time.Second)

	f, _ := p.Submit(func(ctx context.Context) error { return nil })
	_ = wait(t, f)
	first := p.Loop(0)
	if first == nil {
		t.Fatal("no loop after first task")
	}

	f, _ = p.Submit(func(ctx context.Context) error { return nil })
	_ = wait(t, f)
	if p.Loop(0) != first {
		t.Error("worker replaced a healthy loop")
	}
}

// A worker whose loop was closed behind its back recreates it and still runs
// the task.
func TestClosedLoopIsRecreated(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	defer p.Shutdown(time.Second)

	f, _ := p.Submit(func(ctx context.Context) error { return nil })
	_ = wait(t, f)
	old := p.Loop(0)
	old.Close()

	var ran atomic.Bool
	f, _ = p.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return ctx.Err()
	})
	if err := wait(t, f); err != nil {
		t.Fatalf("task on recreated loop: %v", err)
	}
	if !ran.Load() {
		t.Error("task did not run")
	}
	if cur := p.Loop(0); cur == old || cur.Closed() {
		t.Error("loop was not replaced by a live one")
	}
}

func TestLoopRecreationFailure(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	defer p.Shutdown(time.Second)

	f, _ := p.Submit(func(ctx context.Context) error { return nil })
	_ = wait(t, f)

	cause := errors.New("no resources")
	p.loopsMu.Lock()
	p.newLoop = func(int) (*Loop, error) { return nil, cause }
	p.loopsMu.Unlock()
	p.Loop(0).Close()

	f, _ = p.Submit(func(ctx context.Context) error { return nil })
	err := wait(t, f)
	var serr *SchedulingContextError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want SchedulingContextError", err)
	}
	if serr.Worker != 0 || !errors.Is(err, cause) {
		t.Errorf("unexpected error %+v", serr)
	}
}

func TestSubmitOverloaded(t *testing.T) {
	p := NewPool(Options{Workers: 1, QueueSize: 1, MaxInFlight: 1})
	defer p.Shutdown(100 * time.Millisecond)

	release := make(chan struct{})
	defer close(release)
	block := func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}

	started := make(chan struct{})
	_, _ = p.Submit(func(ctx context.Context) error {
		close(started)
		return block(ctx)
	})
	<-started
	// picked up by the worker, parked waiting for the loop's single slot
	_, _ = p.Submit(block)
	deadline := time.Now().Add(time.Second)
	for len(p.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	// fills the queue
	if _, err := p.Submit(block); err != nil {
		t.Fatalf("Submit into free queue slot: %v", err)
	}
	if _, err := p.Submit(block); !errors.Is(err, ErrPoolOverloaded) {
		t.Errorf("err = %v, want ErrPoolOverloaded", err)
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := p.Submit(func(ctx context.Context) error { return nil }); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("err = %v, want ErrPoolClosed", err)
	}
	if err := p.Shutdown(time.Second); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

// Two workers with one slot each are busy; a third task waits for a slot.
// Shutdown lets the running pair finish within grace and drops the waiting one.
func TestShutdownDrainsInFlightAndDropsPending(t *testing.T) {
	p := NewPool(Options{Workers: 2, MaxInFlight: 1})

	var started atomic.Int32
	running := func(ctx context.Context) error {
		started.Add(1)
		time.Sleep(60 * time.Millisecond)
		return nil
	}
	a, _ := p.Submit(running)
	b, _ := p.Submit(running)
	deadline := time.Now().Add(time.Second)
	for started.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	var pendingRan atomic.Bool
	c, _ := p.Submit(func(ctx context.Context) error {
		pendingRan.Store(true)
		return nil
	})

	if err := p.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := wait(t, a); err != nil {
		t.Errorf("in-flight task a: %v", err)
	}
	if err := wait(t, b); err != nil {
		t.Errorf("in-flight task b: %v", err)
	}
	if err := wait(t, c); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("pending task err = %v, want ErrPoolClosed", err)
	}
	if pendingRan.Load() {
		t.Error("pending task ran during shutdown")
	}
	if p.Loop(0) != nil || p.Loop(1) != nil {
		t.Error("loops not evicted")
	}
}

func TestShutdownCancelsAfterGrace(t *testing.T) {
	p := NewPool(Options{Workers: 1, CancelWait: time.Second})

	started := make(chan struct{})
	f, _ := p.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	<-started

	if err := p.Shutdown(20 * time.Millisecond); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := wait(t, f); !errors.Is(err, context.Canceled) {
		t.Errorf("task err = %v, want context.Canceled", err)
	}
}

func TestShutdownTimeoutOnStuckTask(t *testing.T) {
	p := NewPool(Options{Workers: 1, CancelWait: 20 * time.Millisecond})

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	_, _ = p.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	if err := p.Shutdown(20 * time.Millisecond); !errors.Is(err, ErrShutdownTimeout) {
		t.Errorf("Shutdown = %v, want ErrShutdownTimeout", err)
	}
}
