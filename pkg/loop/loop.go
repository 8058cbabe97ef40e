// Package loop owns the background scheduling domain the bridge runs
// async applications on. The source system keeps this as hidden
// process-wide state; here it is an explicit, constructible, disposable
// resource so lifecycle and shutdown stay testable. Strict
// single-threaded execution is not required of this domain: each task
// runs as its own goroutine, dispatched and joined by one long-lived
// driver.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"appbridge/pkg/proto"
)

// ErrClosed is returned by Spawn after Close.
var ErrClosed = errors.New("loop closed")

type spawnReq struct {
	fn   func(ctx context.Context) error
	task *Task
}

// Loop dispatches tasks onto a background scheduling domain and joins
// them on Close.
type Loop struct {
	submit chan spawnReq
	base   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	tasks  sync.WaitGroup
	driver sync.WaitGroup
}

// New starts the loop's driver goroutine.
func New() *Loop {
	base, cancel := context.WithCancel(context.Background())
	l := &Loop{
		submit: make(chan spawnReq),
		base:   base,
		cancel: cancel,
	}
	l.driver.Add(1)
	go l.run()
	return l
}

func (l *Loop) run() {
	defer l.driver.Done()
	for req := range l.submit {
		l.tasks.Add(1)
		go func(req spawnReq) {
			defer l.tasks.Done()
			req.task.run(req.fn)
		}(req)
	}
}

// Spawn schedules fn as a task. The task's context is cancelled by
// Task.Cancel or when the loop closes.
func (l *Loop) Spawn(fn func(ctx context.Context) error) (*Task, error) {
	ctx, cancel := context.WithCancel(l.base)
	t := &Task{ctx: ctx, cancel: cancel, done: make(chan struct{})}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	l.submit <- spawnReq{fn: fn, task: t}
	l.mu.Unlock()
	return t, nil
}

// Close stops accepting work, cancels live tasks and joins everything.
// Safe to call more than once.
func (l *Loop) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.submit)
	l.mu.Unlock()

	l.cancel()
	l.tasks.Wait()
	l.driver.Wait()
	return nil
}

// Task is one scheduled unit of work.
type Task struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (t *Task) run(fn func(ctx context.Context) error) {
	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			t.setErr(proto.RecoverFault(r))
		}
	}()
	if err := fn(t.ctx); err != nil {
		t.setErr(err)
	}
}

func (t *Task) setErr(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} { return t.done }

// Context is the task's context. It is cancelled when the task is
// cancelled and, because completion cancels it, is also done once the
// task has finished; callers can select on it to multiplex "message
// available" against "task over".
func (t *Task) Context() context.Context { return t.ctx }

// Finished reports completion without blocking.
func (t *Task) Finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Err returns the task's failure, valid once finished. Panics inside
// the task surface as *proto.Fault values.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Cancel requests cancellation. Best-effort: the task observes it at
// its next context check.
func (t *Task) Cancel() { t.cancel() }

// Wait blocks for completion up to budget and reports whether the task
// finished. budget < 0 waits indefinitely; budget == 0 only polls.
func (t *Task) Wait(budget time.Duration) bool {
	if budget < 0 {
		<-t.done
		return true
	}
	if budget == 0 {
		return t.Finished()
	}
	timer := time.NewTimer(budget)
	defer timer.Stop()
	select {
	case <-t.done:
		return true
	case <-timer.C:
		return false
	}
}
