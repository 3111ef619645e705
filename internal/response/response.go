// Package response assembles the envelope returned for every ingest request.
package response

import (
	"net/http"
	"time"

	"github.com/jmehdipour/ingest-gateway/internal/model"
)

// Build echoes the destination and event ids and stamps the current time.
func Build(ev model.IngestEvent, status int, message, errText string) model.ResponseEnvelope {
	return model.ResponseEnvelope{
		DestinationID: ev.DestinationID,
		ID:            ev.ID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Message:       message,
		Error:         errText,
	}
}

// OK carries the status reason phrase as the message.
func OK(ev model.IngestEvent, status int) model.ResponseEnvelope {
	return Build(ev, status, http.StatusText(status), "")
}

// Error carries detail as the message and the reason phrase as the error.
func Error(ev model.IngestEvent, status int, detail string) model.ResponseEnvelope {
	return Build(ev, status, detail, http.StatusText(status))
}
