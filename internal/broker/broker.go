// Package broker defines the asynchronous publish contract the gateway consumes
// from a message broker client.
package broker

import (
	"context"
	"errors"
)

// ErrClosed is returned when publishing through a client that has been closed.
var ErrClosed = errors.New("broker client closed")

// Message is a single record bound for a topic.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Publisher issues publishes without waiting for the broker. The returned
// future completes exactly once with the broker outcome.
type Publisher interface {
	Publish(ctx context.Context, msg Message) *Future
	Close() error
}

// Ack is the broker's confirmation that a record was accepted.
type Ack struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Outcome is either an acknowledgment or a failure.
type Outcome struct {
	Ack Ack
	Err error
}

func Acknowledged(a Ack) Outcome { return Outcome{Ack: a} }

func Failed(err error) Outcome {
	if err == nil {
		err = errors.New("publish failed")
	}
	return Outcome{Err: err}
}

func (o Outcome) OK() bool { return o.Err == nil }
