// Package exec runs service work off the bus handlers. Handlers stay
// non-blocking by scheduling tasks here and either waiting on the returned
// future from another goroutine or letting the result publish back to the
// bus when done.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Future resolves to a task's result.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Wait blocks until the task finishes or ctx is done.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Done reports completion without blocking.
func (f *Future[T]) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future[T]) resolve(val T, err error) {
	f.val = val
	f.err = err
	close(f.done)
}

// Executor schedules tasks on goroutines and collects failures from
// fire-and-forget work on an exception queue the host drains.
type Executor struct {
	logger *slog.Logger

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	exceptions chan error
	started    bool
}

// New creates an executor. The exception queue holds background failures
// until the host drains them; when full, further failures are logged and
// dropped.
func New(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		logger:     logger.With("component", "executor"),
		exceptions: make(chan error, 64),
	}
}

// Start makes the executor accept work.
func (e *Executor) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("executor already started")
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.started = true
	return nil
}

// Stop cancels outstanding work and waits for it, bounded by timeout.
func (e *Executor) Stop(timeout time.Duration) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = false
	e.cancel()
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("executor stop timed out after %s", timeout)
	}
}

// Exceptions exposes the background failure queue.
func (e *Executor) Exceptions() <-chan error {
	return e.exceptions
}

func (e *Executor) active() (context.Context, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil, false
	}
	return e.ctx, true
}

// reportException queues a background failure for the host.
func (e *Executor) reportException(err error) {
	select {
	case e.exceptions <- err:
	default:
		e.logger.Error("exception queue full, dropping", "error", err)
	}
}

// RunTask schedules one task and returns its future.
func RunTask[T any](e *Executor, task Task[T]) *Future[T] {
	f := newFuture[T]()
	ctx, ok := e.active()
	if !ok {
		var zero T
		f.resolve(zero, fmt.Errorf("executor is not started"))
		return f
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("task panic", "panic", r, "stack", string(debug.Stack()))
				var zero T
				f.resolve(zero, fmt.Errorf("task panic: %v", r))
			}
		}()
		val, err := task(ctx)
		f.resolve(val, err)
	}()
	return f
}

// RunTasks runs named tasks concurrently and gathers their results keyed by
// name. Each task's error is captured per name; the first error is also
// returned after all tasks finish.
func RunTasks[T any](ctx context.Context, e *Executor, tasks map[string]Task[T]) (map[string]T, error) {
	futures := make(map[string]*Future[T], len(tasks))
	for name, task := range tasks {
		futures[name] = RunTask(e, task)
	}

	results := make(map[string]T, len(tasks))
	var firstErr error
	for name, f := range futures {
		val, err := f.Wait(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("task %s: %w", name, err)
			}
			continue
		}
		results[name] = val
	}
	return results, firstErr
}

// RunBackground schedules fire-and-forget work. Failures land on the
// exception queue instead of being returned.
func (e *Executor) RunBackground(name string, task func(ctx context.Context) error) {
	ctx, ok := e.active()
	if !ok {
		e.reportException(fmt.Errorf("%s: executor is not started", name))
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background task panic", "task", name, "panic", r, "stack", string(debug.Stack()))
				e.reportException(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := task(ctx); err != nil {
			e.reportException(fmt.Errorf("%s: %w", name, err))
		}
	}()
}
