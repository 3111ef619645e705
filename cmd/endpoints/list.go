package endpoints

import (
	"fmt"
	"io"
	"sort"

	"github.com/hamba/avro/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/endpoint"
)

type endpointView struct {
	ID       string      `yaml:"id"`
	Topic    string      `yaml:"topic"`
	Blocking bool        `yaml:"blocking"`
	Format   string      `yaml:"format"`
	Schema   *schemaView `yaml:"schema,omitempty"`
}

type schemaView struct {
	Name        string `yaml:"name"`
	Fingerprint string `yaml:"fingerprint"`
	Strict      bool   `yaml:"strict"`
	RegistryID  int    `yaml:"registry_id,omitempty"`
}

func newListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Load every endpoint and print the effective table as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg, err := LoadRegistry(cfg)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), reg)
		},
	}
}

func writeYAML(w io.Writer, reg *endpoint.Registry) error {
	defs := reg.All()
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	views := make([]endpointView, 0, len(defs))
	for _, d := range defs {
		v := endpointView{ID: d.ID, Topic: d.Topic, Blocking: d.Blocking, Format: "json"}
		if s, ok := d.Schema(); ok {
			v.Format = "avro"
			v.Schema = &schemaView{
				Name:        schemaName(s.Parsed),
				Fingerprint: fingerprint(s.Parsed),
				Strict:      s.Strict,
				RegistryID:  s.ID,
			}
		}
		views = append(views, v)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"endpoints": views}); err != nil {
		return err
	}
	return enc.Close()
}

func schemaName(s avro.Schema) string {
	if n, ok := s.(avro.NamedSchema); ok {
		return n.FullName()
	}
	return string(s.Type())
}

func fingerprint(s avro.Schema) string {
	fp, err := s.FingerprintUsing(avro.CRC64Avro)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", fp)
}
