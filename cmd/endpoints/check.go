package endpoints

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmehdipour/ingest-gateway/internal/config"
	"github.com/jmehdipour/ingest-gateway/internal/payload"
	"github.com/jmehdipour/ingest-gateway/internal/transcode"
)

func newCheckCmd(cfgPath *string) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check <endpoint-id>",
		Short: "Validate a sample payload against an endpoint without publishing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			reg, err := LoadRegistry(cfg)
			if err != nil {
				return err
			}

			def, ok := reg.Lookup(args[0])
			if !ok {
				return fmt.Errorf("endpoint %q is not configured", args[0])
			}

			var raw []byte
			if file == "" || file == "-" {
				raw, err = io.ReadAll(cmd.InOrStdin())
			} else {
				raw, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			if err := payload.Validate(raw); err != nil {
				return fmt.Errorf("invalid payload: %w", err)
			}

			out := cmd.OutOrStdout()
			s, ok := def.Schema()
			if !ok {
				fmt.Fprintf(out, "ok: %d bytes of JSON to topic %s\n", len(raw), def.Topic)
				return nil
			}

			value, err := transcode.Avro(raw, s)
			if err != nil {
				return fmt.Errorf("payload does not fit schema: %w", err)
			}
			fmt.Fprintf(out, "ok: %d bytes of Avro to topic %s\n", len(value), def.Topic)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "-", "payload file, - for stdin")
	return cmd
}
