package util

import (
	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID string. Ids are monotonic within the process and
// independent of any request content.
func NewID() string {
	return ulid.Make().String()
}
