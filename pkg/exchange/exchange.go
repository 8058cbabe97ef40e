// Package exchange implements the cross-goroutine rendezvous the bridge
// adapters are built from: a single-slot mailbox that lets two
// scheduling domains hand one message at a time to each other in
// lockstep, without polling, including a terminal no-wait fast path for
// waiters whose peer will never post again.
//
// The primitive itself never fails; failures travel through it as
// ordinary messages.
package exchange

import (
	"context"
	"sync"
)

// Cell is a single-slot mailbox for values of type T. One side posts
// with Put or PutWait, the other consumes with Take or Wait. At most
// one value occupies the slot; Take clears it atomically with the read
// so no value is ever delivered twice.
type Cell[T any] struct {
	mu     sync.Mutex
	val    T
	filled bool

	ready chan struct{} // closed while the slot is filled
	empty chan struct{} // closed while the slot is empty

	nowait     chan struct{}
	nowaitOnce sync.Once
}

// New creates an empty Cell.
func New[T any]() *Cell[T] {
	c := &Cell[T]{
		ready:  make(chan struct{}),
		empty:  make(chan struct{}),
		nowait: make(chan struct{}),
	}
	close(c.empty)
	return c
}

// Put stores v and wakes any waiter. It never blocks; posting over an
// unconsumed value replaces it, which the half-duplex protocol of the
// adapters rules out in normal operation.
func (c *Cell[T]) Put(v T) {
	c.mu.Lock()
	c.val = v
	if !c.filled {
		c.filled = true
		close(c.ready)
		c.empty = make(chan struct{})
	}
	c.mu.Unlock()
}

// PutWait stores v once the slot is free and returns after a consumer
// has taken it, keeping producer and consumer in lockstep. It resolves
// immediately, discarding v, once MarkNoWait has been called: the
// consuming side has already declared it will not read again.
func (c *Cell[T]) PutWait(ctx context.Context, v T) error {
	for {
		c.mu.Lock()
		if !c.filled {
			c.val = v
			c.filled = true
			close(c.ready)
			c.empty = make(chan struct{})
			c.mu.Unlock()
			break
		}
		empty := c.empty
		c.mu.Unlock()
		select {
		case <-empty:
		case <-c.nowait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	// wait for consumption
	for {
		c.mu.Lock()
		if !c.filled {
			c.mu.Unlock()
			return nil
		}
		empty := c.empty
		c.mu.Unlock()
		select {
		case <-empty:
			return nil
		case <-c.nowait:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Take blocks the calling goroutine until a value has been posted, then
// clears the slot and returns it. ctx aborts the wait. A value already
// in the slot is always delivered, even when ctx is done.
func (c *Cell[T]) Take(ctx context.Context) (T, error) {
	for {
		c.mu.Lock()
		if c.filled {
			v := c.take()
			c.mu.Unlock()
			return v, nil
		}
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// Wait is Take with the terminal fast path: once MarkNoWait has been
// called, pending and future Wait calls resolve immediately with
// ok=false instead of a value.
func (c *Cell[T]) Wait(ctx context.Context) (T, bool, error) {
	for {
		c.mu.Lock()
		if c.filled {
			v := c.take()
			c.mu.Unlock()
			return v, true, nil
		}
		ready := c.ready
		c.mu.Unlock()
		select {
		case <-ready:
		case <-c.nowait:
			var zero T
			return zero, false, nil
		case <-ctx.Done():
			var zero T
			return zero, false, ctx.Err()
		}
	}
}

// TryTake drains the slot without blocking.
func (c *Cell[T]) TryTake() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.filled {
		var zero T
		return zero, false
	}
	return c.take(), true
}

// MarkNoWait is idempotent; after it, all pending and future Wait calls
// resolve immediately with ok=false and PutWait no longer blocks.
func (c *Cell[T]) MarkNoWait() {
	c.nowaitOnce.Do(func() { close(c.nowait) })
}

// take clears the slot. Callers hold c.mu.
func (c *Cell[T]) take() T {
	v := c.val
	var zero T
	c.val = zero
	c.filled = false
	c.ready = make(chan struct{})
	close(c.empty)
	return v
}
