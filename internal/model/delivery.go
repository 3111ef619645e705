package model

import "time"

type DeliveryStatus string

const (
	DeliveryAcked  DeliveryStatus = "acked"
	DeliveryFailed DeliveryStatus = "failed"
)

func (s DeliveryStatus) String() string {
	return string(s)
}

func (s DeliveryStatus) Valid() bool {
	return s == DeliveryAcked || s == DeliveryFailed
}

// Delivery is the recorded broker outcome of one dispatched event.
type Delivery struct {
	ID         string         `db:"id"               json:"id"`
	EndpointID string         `db:"endpoint_id"      json:"endpointId"`
	Topic      string         `db:"topic"            json:"topic"`
	Partition  int32          `db:"broker_partition" json:"partition"`
	Offset     int64          `db:"broker_offset"    json:"offset"`
	Blocking   bool           `db:"blocking"         json:"blocking"`
	Status     DeliveryStatus `db:"status"           json:"status"`
	Error      string         `db:"error"            json:"error,omitempty"`
	LatencyMs  int64          `db:"latency_ms"       json:"latencyMs"`
	CreatedAt  time.Time      `db:"created_at"       json:"createdAt"`
}
