package endpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hamba/avro/v2"
	"github.com/jmehdipour/ingest-gateway/internal/config"
)

// SchemaIDResolver returns the registry id for the value schema of topic.
type SchemaIDResolver interface {
	ResolveID(topic string, s *Schema) (int, error)
}

type loadOptions struct {
	baseDir  string
	resolver SchemaIDResolver
}

type Option func(*loadOptions)

// WithBaseDir resolves relative schema paths against dir.
func WithBaseDir(dir string) Option {
	return func(o *loadOptions) { o.baseDir = dir }
}

// WithSchemaIDs resolves a registry id for every schema-bearing endpoint.
func WithSchemaIDs(r SchemaIDResolver) Option {
	return func(o *loadOptions) { o.resolver = r }
}

// Load builds the registry from configuration, reading and parsing every
// schema. Any error aborts startup.
func Load(cfgs map[string]config.EndpointConfig, opts ...Option) (*Registry, error) {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}

	ids := make([]string, 0, len(cfgs))
	for id := range cfgs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	defs := make([]Definition, 0, len(ids))
	for _, id := range ids {
		ec := cfgs[id]
		if strings.TrimSpace(ec.Topic) == "" {
			return nil, fmt.Errorf("endpoint %q: topic is required", id)
		}

		def := Definition{
			ID:       id,
			Topic:    ec.Topic,
			Blocking: ec.Blocking,
			Format:   Raw{},
		}

		if ec.Schema != nil {
			s, err := loadSchema(ec.Schema, o.baseDir)
			if err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", id, err)
			}
			s.Strict = ec.Strict

			if o.resolver != nil {
				sid, err := o.resolver.ResolveID(ec.Topic, s)
				if err != nil {
					return nil, fmt.Errorf("endpoint %q: resolve schema id: %w", id, err)
				}
				s.ID = sid
			}
			def.Format = s
		}

		defs = append(defs, def)
	}

	return NewRegistry(defs...), nil
}

func loadSchema(sc *config.SchemaConfig, baseDir string) (*Schema, error) {
	path := strings.TrimSpace(sc.Path)
	text := sc.Inline

	switch {
	case path != "" && strings.TrimSpace(text) != "":
		return nil, fmt.Errorf("schema: path and inline are mutually exclusive")
	case path != "":
		if !filepath.IsAbs(path) && baseDir != "" {
			path = filepath.Join(baseDir, path)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", path, err)
		}
		text = string(b)
	case strings.TrimSpace(text) == "":
		return nil, fmt.Errorf("schema: one of path or inline is required")
	}

	// each endpoint gets its own named-type cache so unrelated schemas may reuse record names
	parsed, err := avro.ParseWithCache(text, "", &avro.SchemaCache{})
	if err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	return &Schema{Text: text, Parsed: parsed}, nil
}
