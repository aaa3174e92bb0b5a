package scheduler

import "runtime"

// Pool is a fixed number of execution slots shared by every sweep of an
// Engine. Each slot runs one runner invocation at a time.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool of size slots. A size of zero or less uses the
// CPU count at creation time; it is not re-read later.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return cap(p.slots)
}

// Busy returns the number of occupied slots.
func (p *Pool) Busy() int {
	return len(p.slots)
}

// acquire blocks until a slot is free or stop is closed. It reports
// whether a slot was taken.
func (p *Pool) acquire(stop <-chan struct{}) bool {
	select {
	case p.slots <- struct{}{}:
		return true
	case <-stop:
		return false
	}
}

func (p *Pool) release() {
	<-p.slots
}
