package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"appbridge/pkg/proto"
)

func TestSpawnAndWait(t *testing.T) {
	l := New()
	defer l.Close()

	ran := make(chan struct{})
	task, err := l.Spawn(func(ctx context.Context) error {
		close(ran)
		return nil
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if !task.Wait(-1) {
		t.Fatal("Wait(-1) must report completion")
	}
	select {
	case <-ran:
	default:
		t.Fatal("task never ran")
	}
	if task.Err() != nil {
		t.Fatalf("unexpected task error: %v", task.Err())
	}
}

func TestTaskError(t *testing.T) {
	l := New()
	defer l.Close()

	boom := errors.New("boom")
	task, err := l.Spawn(func(ctx context.Context) error { return boom })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	task.Wait(-1)
	if task.Err() != boom {
		t.Fatalf("expected boom, got %v", task.Err())
	}
}

func TestTaskPanicSurfacesAsFault(t *testing.T) {
	l := New()
	defer l.Close()

	task, err := l.Spawn(func(ctx context.Context) error { panic("kaboom") })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	task.Wait(-1)
	var f *proto.Fault
	if !errors.As(task.Err(), &f) || f.Kind != proto.FaultPanic {
		t.Fatalf("expected panic fault, got %v", task.Err())
	}
}

func TestCancelStopsTask(t *testing.T) {
	l := New()
	defer l.Close()

	task, err := l.Spawn(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if task.Finished() {
		t.Fatal("task finished before cancel")
	}
	task.Cancel()
	if !task.Wait(-1) {
		t.Fatal("cancelled task never finished")
	}
}

func TestWaitBudget(t *testing.T) {
	l := New()
	defer l.Close()

	release := make(chan struct{})
	task, err := l.Spawn(func(ctx context.Context) error {
		<-release
		return nil
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if task.Wait(0) {
		t.Fatal("Wait(0) should only poll")
	}
	if task.Wait(20 * time.Millisecond) {
		t.Fatal("Wait should time out while the task is blocked")
	}
	close(release)
	if !task.Wait(time.Second) {
		t.Fatal("task never finished after release")
	}
}

func TestContextDoneAfterCompletion(t *testing.T) {
	l := New()
	defer l.Close()

	task, err := l.Spawn(func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	task.Wait(-1)
	select {
	case <-task.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("task context should be done once the task has finished")
	}
}

func TestSpawnAfterClose(t *testing.T) {
	l := New()
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := l.Spawn(func(ctx context.Context) error { return nil }); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	// idempotent
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestCloseCancelsLiveTasks(t *testing.T) {
	l := New()
	task, err := l.Spawn(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Close()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not join a cancellable task")
	}
	if !task.Finished() {
		t.Fatal("task should be finished after Close")
	}
}
