// Package kafka publishes gateway records to Kafka through an asynchronous
// kafka-go writer, completing one broker.Future per record.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/metrics"
)

// ErrBrokerUnavailable is returned without contacting Kafka while the breaker is open.
var ErrBrokerUnavailable = errors.New("kafka unavailable: circuit open")

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer implements broker.Publisher.
type Producer struct {
	w       writer
	breaker *Breaker
	log     *zap.Logger
	closed  atomic.Bool
}

var _ broker.Publisher = (*Producer)(nil)

func NewProducer(cfg config.KafkaConfig, log *zap.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if log == nil {
		log = zap.NewNop()
	}

	acks, err := requiredAcks(cfg.RequiredAcks)
	if err != nil {
		return nil, err
	}
	balancer, err := newBalancer(cfg.Balancer)
	if err != nil {
		return nil, err
	}

	transport := &kafka.Transport{ClientID: cfg.ClientID}
	if cfg.TLS.Enabled {
		if transport.TLS, err = createTLSConfig(cfg.TLS); err != nil {
			return nil, err
		}
	}
	if cfg.SASL.Enabled {
		if transport.SASL, err = createSASLMechanism(cfg.SASL); err != nil {
			return nil, err
		}
	}

	p := &Producer{log: log}
	if cfg.Breaker.Enabled {
		p.breaker = NewBreaker(cfg.Breaker.FailThreshold, time.Duration(cfg.Breaker.OpenForMs)*time.Millisecond)
		p.breaker.OnStateChange(func(from, to BreakerState) {
			metrics.BreakerState.Set(float64(to))
			log.Warn("kafka breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		})
	}

	kw := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               balancer,
		MaxAttempts:            cfg.MaxAttempts,
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		RequiredAcks:           acks,
		Async:                  true,
		Completion:             p.complete,
		Transport:              transport,
		AllowAutoTopicCreation: cfg.AllowAutoTopicCreation,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error("kafka writer", zap.String("detail", fmt.Sprintf(msg, args...)))
		}),
	}

	switch strings.ToLower(cfg.Compression) {
	case "":
	case "gzip":
		kw.Compression = kafka.Gzip
	case "snappy":
		kw.Compression = kafka.Snappy
	case "lz4":
		kw.Compression = kafka.Lz4
	case "zstd":
		kw.Compression = kafka.Zstd
	default:
		return nil, fmt.Errorf("kafka: unsupported compression %q", cfg.Compression)
	}

	p.w = kw
	return p, nil
}

// Publish hands msg to the writer and returns immediately.
func (p *Producer) Publish(ctx context.Context, msg broker.Message) *broker.Future {
	if p.closed.Load() {
		return broker.Resolved(broker.Failed(broker.ErrClosed))
	}
	if p.breaker != nil && !p.breaker.Allow() {
		return broker.Resolved(broker.Failed(ErrBrokerUnavailable))
	}

	f := broker.NewFuture()
	km := kafka.Message{
		Topic:      msg.Topic,
		Key:        []byte(msg.Key),
		Value:      msg.Value,
		WriterData: f,
	}
	for k, v := range msg.Headers {
		km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	// async writes only fail here when the record is rejected before batching
	if err := p.w.WriteMessages(ctx, km); err != nil {
		p.settle(f, msg.Topic, broker.Failed(err))
	}
	return f
}

// Healthy is false while the breaker refuses publishes.
func (p *Producer) Healthy() bool {
	return !p.closed.Load() && (p.breaker == nil || p.breaker.Ready())
}

// Close flushes buffered records; their futures complete before Close returns.
func (p *Producer) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.w.Close()
}

// complete runs on the writer's goroutine once a batch has been written or has failed.
func (p *Producer) complete(msgs []kafka.Message, err error) {
	var writeErrs kafka.WriteErrors
	perMessage := errors.As(err, &writeErrs) && len(writeErrs) == len(msgs)

	for i, m := range msgs {
		f, ok := m.WriterData.(*broker.Future)
		if !ok {
			continue
		}

		msgErr := err
		if perMessage {
			msgErr = writeErrs[i]
		}

		if msgErr != nil {
			p.settle(f, m.Topic, broker.Failed(msgErr))
			continue
		}
		p.settle(f, m.Topic, broker.Acknowledged(broker.Ack{
			Topic:     m.Topic,
			Partition: int32(m.Partition),
			Offset:    m.Offset,
		}))
	}
}

func (p *Producer) settle(f *broker.Future, topic string, o broker.Outcome) {
	if p.breaker != nil {
		p.breaker.Record(o.Err)
	}
	if !f.Complete(o) {
		p.log.Warn("publish outcome already delivered", zap.String("topic", topic))
	}
}

func requiredAcks(s string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(s) {
	case "none", "0":
		return kafka.RequireNone, nil
	case "", "one", "1":
		return kafka.RequireOne, nil
	case "all", "-1":
		return kafka.RequireAll, nil
	}
	return 0, fmt.Errorf("kafka: unsupported required_acks %q", s)
}

func newBalancer(s string) (kafka.Balancer, error) {
	switch strings.ToLower(s) {
	case "", "murmur2":
		return &kafka.Murmur2Balancer{}, nil
	case "hash":
		return &kafka.Hash{}, nil
	case "round_robin":
		return &kafka.RoundRobin{}, nil
	case "least_bytes":
		return &kafka.LeastBytes{}, nil
	}
	return nil, fmt.Errorf("kafka: unsupported balancer %q", s)
}

func createTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACert != "" {
		caCert, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA cert")
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func createSASLMechanism(cfg config.SASLConfig) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "PLAIN":
		return plain.Mechanism{
			Username: cfg.Username,
			Password: cfg.Password,
		}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, cfg.Username, cfg.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.Mechanism)
	}
}
