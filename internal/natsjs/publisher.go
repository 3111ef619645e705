// Package natsjs publishes gateway records to NATS JetStream, completing one
// broker.Future per record from the asynchronous publish ack.
package natsjs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/config"
)

type asyncPublisher interface {
	PublishMsgAsync(msg *nats.Msg, opts ...jetstream.PublishOpt) (jetstream.PubAckFuture, error)
	PublishAsyncComplete() <-chan struct{}
}

// Publisher implements broker.Publisher. Topics are used as subjects.
type Publisher struct {
	nc      *nats.Conn
	js      asyncPublisher
	log     *zap.Logger
	timeout time.Duration

	// mu orders waiters.Add in Publish before waiters.Wait in Close
	mu      sync.RWMutex
	closed  atomic.Bool
	waiters sync.WaitGroup
}

var _ broker.Publisher = (*Publisher)(nil)

func NewPublisher(cfg config.NATSConfig, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("nats reconnected")
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	jsOpts := []jetstream.JetStreamOpt{}
	if cfg.MaxPending > 0 {
		jsOpts = append(jsOpts, jetstream.WithPublishAsyncMaxPending(cfg.MaxPending))
	}
	if cfg.Timeout > 0 {
		jsOpts = append(jsOpts, jetstream.WithPublishAsyncTimeout(cfg.Timeout))
	}
	js, err := jetstream.New(nc, jsOpts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &Publisher{nc: nc, js: js, log: log, timeout: cfg.Timeout}, nil
}

// EnsureStream creates or updates a stream capturing subjects.
func (p *Publisher) EnsureStream(ctx context.Context, name string, subjects []string) error {
	js, ok := p.js.(jetstream.JetStream)
	if !ok {
		return fmt.Errorf("stream management unavailable")
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      name,
		Subjects:  subjects,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create/update stream %s: %w", name, err)
	}
	return nil
}

// Publish sends msg asynchronously. The key becomes the JetStream message id,
// so retried publishes of the same event are deduplicated by the server.
func (p *Publisher) Publish(_ context.Context, msg broker.Message) *broker.Future {
	p.mu.RLock()
	if p.closed.Load() {
		p.mu.RUnlock()
		return broker.Resolved(broker.Failed(broker.ErrClosed))
	}
	p.waiters.Add(1)
	p.mu.RUnlock()

	nm := nats.NewMsg(msg.Topic)
	nm.Data = msg.Value
	for k, v := range msg.Headers {
		nm.Header.Set(k, v)
	}

	var opts []jetstream.PublishOpt
	if msg.Key != "" {
		opts = append(opts, jetstream.WithMsgID(msg.Key))
	}

	paf, err := p.js.PublishMsgAsync(nm, opts...)
	if err != nil {
		p.waiters.Done()
		return broker.Resolved(broker.Failed(err))
	}

	f := broker.NewFuture()
	go func() {
		defer p.waiters.Done()
		p.await(f, msg.Topic, paf)
	}()
	return f
}

func (p *Publisher) await(f *broker.Future, subject string, paf jetstream.PubAckFuture) {
	select {
	case ack := <-paf.Ok():
		f.Complete(broker.Acknowledged(broker.Ack{Topic: subject, Offset: int64(ack.Sequence)}))
	case err := <-paf.Err():
		f.Complete(broker.Failed(err))
	}
}

// Healthy is false once closed or while the connection is down.
func (p *Publisher) Healthy() bool {
	return !p.closed.Load() && (p.nc == nil || p.nc.IsConnected())
}

// Close waits for outstanding acks, bounded by the configured timeout, then
// drains the connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	swapped := p.closed.CompareAndSwap(false, true)
	p.mu.Unlock()
	if !swapped {
		return nil
	}

	wait := p.timeout
	if wait <= 0 {
		wait = 5 * time.Second
	}
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(wait):
		p.log.Warn("closing with unacknowledged publishes")
	}

	var err error
	if p.nc != nil {
		err = p.nc.Drain()
	}

	done := make(chan struct{})
	go func() {
		p.waiters.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(wait):
		p.log.Warn("publish acks still outstanding after close")
	}
	return err
}
