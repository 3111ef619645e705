package broker

import "sync"

// Future carries the outcome of one publish. Callbacks registered with
// OnComplete run exactly once, on the goroutine that completes the future or,
// if the future is already complete, on the registering goroutine.
type Future struct {
	mu        sync.Mutex
	completed bool
	outcome   Outcome
	callbacks []func(Outcome)
	done      chan struct{}
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(o Outcome) *Future {
	f := NewFuture()
	f.Complete(o)
	return f
}

// Complete sets the outcome. Only the first call has an effect; it reports
// whether this call completed the future.
func (f *Future) Complete(o Outcome) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.outcome = o
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(o)
	}
	return true
}

// OnComplete registers a continuation.
func (f *Future) OnComplete(cb func(Outcome)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	o := f.outcome
	f.mu.Unlock()
	cb(o)
}

// Done is closed once the outcome is known.
func (f *Future) Done() <-chan struct{} { return f.done }

// Outcome returns the outcome and whether it is available yet.
func (f *Future) Outcome() (Outcome, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcome, f.completed
}
