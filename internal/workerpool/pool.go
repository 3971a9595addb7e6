// Package workerpool provides a fixed-size admission gate for processing
// slots. Background task workers and synchronous example requests draw
// from the same pool, so total concurrent engine work never exceeds the
// configured size.
package workerpool

import "context"

// Pool is a counting semaphore over processing slots. The zero value is
// not usable; create instances with New. Pools are passed by reference so
// every component sharing one sees the same capacity.
type Pool struct {
	slots chan struct{}
}

// New creates a pool with the given number of slots. Sizes below one are
// raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire blocks until a slot is free or the context is done.
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire takes a slot if one is free without blocking. Returns false
// when the pool is exhausted.
func (p *Pool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a previously acquired slot.
func (p *Pool) Release() {
	select {
	case <-p.slots:
	default:
		panic("workerpool: release without acquire")
	}
}

// Size returns the pool capacity.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// InUse returns the number of slots currently held.
func (p *Pool) InUse() int {
	return len(p.slots)
}
