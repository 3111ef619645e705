package model

import "github.com/jmehdipour/ingest-gateway/internal/util"

// IngestEvent is one inbound request. It is created once and never mutated.
type IngestEvent struct {
	ID            string
	DestinationID string
	Payload       []byte
}

// NewIngestEvent stamps a freshly generated id onto the request.
func NewIngestEvent(destinationID string, payload []byte) IngestEvent {
	return IngestEvent{
		ID:            util.NewID(),
		DestinationID: destinationID,
		Payload:       payload,
	}
}
