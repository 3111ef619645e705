package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestgw_requests_total",
			Help: "Ingest requests by endpoint and terminal dispatch state",
		},
		[]string{"endpoint", "state"}, // not_found|invalid|transcode_failed|acked|failed|accepted
	)

	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestgw_publish_total",
			Help: "Broker publish outcomes by topic",
		},
		[]string{"topic", "result"}, // acked|failed
	)

	PublishDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingestgw_publish_duration_seconds",
			Help:    "Time from publish call to broker outcome",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"topic"},
	)

	RateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingestgw_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	DeliveriesFlushed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestgw_deliveries_flushed_total",
			Help: "Delivery records written to the delivery sink",
		},
		[]string{"result"}, // ok|error|dropped
	)

	BreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingestgw_kafka_breaker_state",
			Help: "Kafka producer breaker: 0 closed, 1 open, 2 half-open",
		},
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		RequestsTotal,
		PublishTotal,
		PublishDuration,
		RateLimitedTotal,
		DeliveriesFlushed,
		BreakerState,
	)
}
