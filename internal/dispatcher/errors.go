package dispatcher

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError means no endpoint is configured for the destination id.
type NotFoundError struct {
	DestinationID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Endpoint with endpointId = '%s' does not exist.", e.DestinationID)
}

// ValidationError means the payload is not strictly valid JSON.
type ValidationError struct {
	Cause error
}

func (e *ValidationError) Error() string { return compose("Payload is not valid JSON", e.Cause) }
func (e *ValidationError) Unwrap() error { return e.Cause }

// TranscodeError means the payload does not fit the endpoint's Avro schema.
type TranscodeError struct {
	DestinationID string
	Cause         error
}

func (e *TranscodeError) Error() string {
	return compose(fmt.Sprintf("Payload does not match the schema of endpoint '%s'", e.DestinationID), e.Cause)
}
func (e *TranscodeError) Unwrap() error { return e.Cause }

// DispatchError means the broker rejected or failed to acknowledge the record.
type DispatchError struct {
	Topic string
	Cause error
}

func (e *DispatchError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("publish to topic '%s' failed", e.Topic)
	}
	return e.Cause.Error()
}
func (e *DispatchError) Unwrap() error { return e.Cause }

// StatusOf maps a dispatch error to its HTTP status.
func StatusOf(err error) int {
	var (
		nf *NotFoundError
		ve *ValidationError
		te *TranscodeError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.As(err, &ve), errors.As(err, &te):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func compose(msg string, cause error) string {
	if cause == nil || cause.Error() == "" {
		return msg + "."
	}
	return msg + ". " + cause.Error()
}
