// Package endpoint holds the immutable mapping from destination ids to their
// publish configuration.
package endpoint

import (
	"github.com/hamba/avro/v2"
)

// Format tells the dispatcher how a payload is put on the wire: as the raw
// JSON text, or transcoded into Avro.
type Format interface {
	format()
}

// Raw publishes the validated JSON bytes unchanged.
type Raw struct{}

func (Raw) format() {}

// Schema publishes Avro records conforming to Parsed.
type Schema struct {
	Text   string
	Parsed avro.Schema
	// Strict rejects JSON fields the record schema does not declare.
	Strict bool
	// ID is the schema registry id; 0 when no registry is configured.
	ID int
}

func (*Schema) format() {}

// Definition is the publish configuration of one destination.
type Definition struct {
	ID       string
	Topic    string
	Blocking bool
	Format   Format
}

// Schema returns the Avro schema of the destination, if it has one.
func (d Definition) Schema() (*Schema, bool) {
	s, ok := d.Format.(*Schema)
	return s, ok
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry copies defs into a new registry.
func NewRegistry(defs ...Definition) *Registry {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		if d.Format == nil {
			d.Format = Raw{}
		}
		m[d.ID] = d
	}
	return &Registry{defs: m}
}

// Lookup returns the definition for a destination id.
func (r *Registry) Lookup(id string) (Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// Len is the number of configured destinations.
func (r *Registry) Len() int { return len(r.defs) }

// All returns the definitions; the slice is a copy.
func (r *Registry) All() []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}
