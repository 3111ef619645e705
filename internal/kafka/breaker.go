package kafka

import (
	"sync"
	"time"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Breaker guards the writer: after threshold consecutive failed records it
// refuses publishes for cooldown, then admits one probe record whose outcome
// closes or reopens it.
type Breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	threshold int
	cooldown  time.Duration
	reopenAt  time.Time
	probing   bool

	now      func() time.Time
	onChange func(from, to BreakerState)
}

func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{threshold: threshold, cooldown: cooldown, now: time.Now}
}

// OnStateChange registers fn, called with the lock held on every transition.
func (b *Breaker) OnStateChange(fn func(from, to BreakerState)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ready reports whether Allow would admit a record right now, without
// claiming the probe slot.
func (b *Breaker) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerOpen:
		return !b.now().Before(b.reopenAt) && !b.probing
	case BreakerHalfOpen:
		return !b.probing
	}
	return true
}

// Allow admits a record. In the open state the first call after the cooldown
// becomes the probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Before(b.reopenAt) || b.probing {
			return false
		}
		b.set(BreakerHalfOpen)
		b.probing = true
		return true
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Record feeds one record outcome back.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.failures = 0
		b.probing = false
		b.set(BreakerClosed)
		return
	}

	if b.state == BreakerHalfOpen {
		b.probing = false
		b.trip()
		return
	}

	b.failures++
	if b.state == BreakerClosed && b.failures >= b.threshold {
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.reopenAt = b.now().Add(b.cooldown)
	b.set(BreakerOpen)
}

func (b *Breaker) set(to BreakerState) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onChange != nil {
		b.onChange(from, to)
	}
}
