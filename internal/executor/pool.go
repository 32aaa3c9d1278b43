package executor

import "context"

// Pool bounds how many projects run their pipelines concurrently. The
// size is a fixed configuration value, never derived from project count.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with the given capacity
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Acquire claims a slot, blocking until one is free or ctx is done
func (p *Pool) Acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire claims a slot without blocking. Returns true on success.
func (p *Pool) TryAcquire() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot to the pool
func (p *Pool) Release() {
	<-p.slots
}

// Available returns the number of free slots
func (p *Pool) Available() int {
	return cap(p.slots) - len(p.slots)
}

// Size returns the pool capacity
func (p *Pool) Size() int {
	return cap(p.slots)
}
