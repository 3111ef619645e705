package endpoints

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
	"github.com/jmehdipour/ingest-gateway/internal/schemaregistry"
)

// NewEndpointsCmd returns the parent "endpoints" command.
func NewEndpointsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "endpoints",
		Short: "Inspect configured endpoints",
	}
	// attach subcommands
	cmd.AddCommand(newListCmd(cfgPath))
	cmd.AddCommand(newCheckCmd(cfgPath))

	return cmd
}

// LoadRegistry parses every endpoint schema and, when a schema registry is
// configured, resolves the id each schema is framed with.
func LoadRegistry(cfg config.Config) (*endpoint.Registry, error) {
	opts := []endpoint.Option{endpoint.WithBaseDir(cfg.Dir)}

	if cfg.SchemaRegistry.URL != "" {
		client, err := schemaregistry.NewClient(schemaregistry.Config{
			URL:      cfg.SchemaRegistry.URL,
			Username: cfg.SchemaRegistry.Username,
			Password: cfg.SchemaRegistry.Password,
			Timeout:  cfg.SchemaRegistry.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, endpoint.WithSchemaIDs(&schemaregistry.Resolver{
			Client:       client,
			AutoRegister: cfg.SchemaRegistry.AutoRegister,
			Timeout:      cfg.SchemaRegistry.Timeout,
		}))
	}

	reg, err := endpoint.Load(cfg.Endpoints, opts...)
	if err != nil {
		return nil, fmt.Errorf("load endpoints: %w", err)
	}
	return reg, nil
}
