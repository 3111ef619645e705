package schemaregistry

import (
	"context"
	"time"

	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
)

// Resolver maps endpoint schemas to registry ids using the topic-name subject
// strategy (<topic>-value).
type Resolver struct {
	Client       *Client
	AutoRegister bool
	Timeout      time.Duration
}

var _ endpoint.SchemaIDResolver = (*Resolver)(nil)

// Subject is the value subject of topic.
func Subject(topic string) string { return topic + "-value" }

func (r *Resolver) ResolveID(topic string, s *endpoint.Schema) (int, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// the registry stores the canonical form, so send that rather than the file text
	text := s.Parsed.String()
	if r.AutoRegister {
		return r.Client.RegisterSchema(ctx, Subject(topic), text)
	}
	return r.Client.LookupID(ctx, Subject(topic), text)
}
