package dispatcher

import (
	"context"
	"sync"

	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// State is the terminal state of one request.
type State int

const (
	StateUnresolved State = iota
	StateNotFound
	StateInvalid
	StateTranscodeFailed
	StateAcked
	StateFailed
	StateAccepted
)

func (s State) String() string {
	switch s {
	case StateNotFound:
		return "not_found"
	case StateInvalid:
		return "invalid"
	case StateTranscodeFailed:
		return "transcode_failed"
	case StateAcked:
		return "acked"
	case StateFailed:
		return "failed"
	case StateAccepted:
		return "accepted"
	}
	return "unresolved"
}

// Pending is the not-yet-known response to one request. It is resolved exactly once.
type Pending struct {
	once  sync.Once
	done  chan struct{}
	state State
	env   model.ResponseEnvelope
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(state State, env model.ResponseEnvelope) bool {
	resolved := false
	p.once.Do(func() {
		p.state = state
		p.env = env
		close(p.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the response is known.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the response is known or ctx ends.
func (p *Pending) Wait(ctx context.Context) (model.ResponseEnvelope, error) {
	select {
	case <-p.done:
		return p.env, nil
	case <-ctx.Done():
		return model.ResponseEnvelope{}, ctx.Err()
	}
}

// State returns the terminal state, or StateUnresolved while pending.
func (p *Pending) State() State {
	select {
	case <-p.done:
		return p.state
	default:
		return StateUnresolved
	}
}

// Envelope returns the response if it is already known.
func (p *Pending) Envelope() (model.ResponseEnvelope, bool) {
	select {
	case <-p.done:
		return p.env, true
	default:
		return model.ResponseEnvelope{}, false
	}
}
