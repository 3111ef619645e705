// Package dispatcher drives one ingest request from destination lookup to its
// response: validate, optionally transcode, publish, and reconcile the broker
// outcome with the endpoint's blocking policy.
package dispatcher

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/ingest-gateway/internal/broker"
	"github.com/jmehdipour/ingest-gateway/internal/delivery"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	"github.com/jmehdipour/ingest-gateway/internal/metrics"
	"github.com/jmehdipour/ingest-gateway/internal/model"
	"github.com/jmehdipour/ingest-gateway/internal/payload"
	"github.com/jmehdipour/ingest-gateway/internal/response"
	"github.com/jmehdipour/ingest-gateway/internal/transcode"
)

const (
	contentTypeJSON = "application/json"
	contentTypeAvro = "avro/binary"
)

type Dispatcher struct {
	registry  *endpoint.Registry
	publisher broker.Publisher
	recorder  delivery.Recorder
	log       *zap.Logger
	now       func() time.Time
}

type Option func(*Dispatcher)

func WithRecorder(r delivery.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

func New(registry *endpoint.Registry, publisher broker.Publisher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		publisher: publisher,
		recorder:  delivery.Nop{},
		log:       zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch never waits for the broker. The returned Pending resolves
// immediately for lookup, validation and transcode failures and for
// non-blocking endpoints; blocking endpoints resolve when the broker answers.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.IngestEvent) *Pending {
	p := newPending()
	log := d.log.With(zap.String("id", ev.ID), zap.String("endpoint", ev.DestinationID))

	def, ok := d.registry.Lookup(ev.DestinationID)
	if !ok {
		err := &NotFoundError{DestinationID: ev.DestinationID}
		log.Warn("unknown endpoint")
		d.finish(p, "unknown", StateNotFound, response.Error(ev, http.StatusNotFound, err.Error()))
		return p
	}

	if err := payload.Validate(ev.Payload); err != nil {
		verr := &ValidationError{Cause: err}
		log.Warn("invalid payload", zap.Error(err))
		d.finish(p, def.ID, StateInvalid, response.Error(ev, StatusOf(verr), verr.Error()))
		return p
	}

	msg := broker.Message{
		Topic:   def.Topic,
		Key:     ev.ID,
		Value:   ev.Payload,
		Headers: map[string]string{"content-type": contentTypeJSON},
	}

	if s, ok := def.Schema(); ok {
		value, err := transcode.Avro(ev.Payload, s)
		if err != nil {
			terr := &TranscodeError{DestinationID: def.ID, Cause: err}
			log.Warn("payload does not fit schema", zap.Error(err))
			d.finish(p, def.ID, StateTranscodeFailed, response.Error(ev, StatusOf(terr), terr.Error()))
			return p
		}
		msg.Value = value
		msg.Headers["content-type"] = contentTypeAvro
	}

	start := d.now()
	// the publish outlives the request that issued it
	future := d.publisher.Publish(context.WithoutCancel(ctx), msg)

	if def.Blocking {
		future.OnComplete(func(o broker.Outcome) {
			d.observe(log, ev, def, o, start)
			if o.OK() {
				d.finish(p, def.ID, StateAcked, response.OK(ev, http.StatusOK))
				return
			}
			derr := &DispatchError{Topic: def.Topic, Cause: o.Err}
			d.finish(p, def.ID, StateFailed, response.Error(ev, StatusOf(derr), derr.Error()))
		})
		return p
	}

	d.finish(p, def.ID, StateAccepted, response.OK(ev, http.StatusAccepted))
	future.OnComplete(func(o broker.Outcome) {
		d.observe(log, ev, def, o, start)
	})
	return p
}

func (d *Dispatcher) finish(p *Pending, endpointLabel string, state State, env model.ResponseEnvelope) {
	if p.resolve(state, env) {
		metrics.RequestsTotal.WithLabelValues(endpointLabel, state.String()).Inc()
	}
}

// observe records the broker outcome: log, metrics and the delivery sink.
func (d *Dispatcher) observe(log *zap.Logger, ev model.IngestEvent, def endpoint.Definition, o broker.Outcome, start time.Time) {
	now := d.now()
	elapsed := now.Sub(start)
	metrics.PublishDuration.WithLabelValues(def.Topic).Observe(elapsed.Seconds())

	rec := model.Delivery{
		ID:         ev.ID,
		EndpointID: def.ID,
		Topic:      def.Topic,
		Blocking:   def.Blocking,
		LatencyMs:  elapsed.Milliseconds(),
		CreatedAt:  now.UTC(),
	}

	if o.OK() {
		metrics.PublishTotal.WithLabelValues(def.Topic, "acked").Inc()
		rec.Status = model.DeliveryAcked
		rec.Partition = o.Ack.Partition
		rec.Offset = o.Ack.Offset
		log.Debug("message sent",
			zap.String("topic", o.Ack.Topic),
			zap.Int32("partition", o.Ack.Partition),
			zap.Int64("offset", o.Ack.Offset),
		)
	} else {
		metrics.PublishTotal.WithLabelValues(def.Topic, "failed").Inc()
		rec.Status = model.DeliveryFailed
		rec.Error = o.Err.Error()
		log.Error("unable to send message",
			zap.String("topic", def.Topic),
			zap.Bool("blocking", def.Blocking),
			zap.Error(o.Err),
		)
	}

	d.recorder.Record(rec)
}
