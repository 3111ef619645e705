package model

import "time"

// ResponseEnvelope is the body returned for every ingest request.
type ResponseEnvelope struct {
	DestinationID string    `json:"destinationId"`
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Status        int       `json:"status"`
	Message       string    `json:"message"`
	Error         string    `json:"error,omitempty"`
}
