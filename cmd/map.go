// File: cmd/map.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/mapper"
	"github.com/xkilldash9x/tmscan/internal/observability"
)

func newMapCmd() *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "map <diagram.json|->",
		Short: "Convert an editor diagram into an Open Threat Model document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := getConfig(cmd.Context())
			logger := observability.GetLogger().Named("map")

			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported output format: %s", format)
			}

			m, err := loadModel(cmd, args[0], false, cfg, logger)
			if err != nil {
				return err
			}

			w, closeFn, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			if err := writeProject(w, m.Project, format); err != nil {
				_ = closeFn()
				return err
			}
			if err := closeFn(); err != nil {
				return fmt.Errorf("failed to close output: %w", err)
			}

			logger.Info("Diagram mapped",
				zap.String("project_id", m.Project.Project.ID),
				zap.Int("trust_zones", len(m.Project.TrustZones)),
				zap.Int("components", len(m.Project.Components)),
				zap.Int("dataflows", len(m.Project.DataFlows)),
				zap.Int("diagnostics", len(m.Diagnostics)),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format ('json' or 'yaml')")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file path (default stdout)")
	return cmd
}

// openOutput returns the file at path, or the command's stdout when path is
// empty. The close func never closes stdout.
func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "stdout" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	return f, f.Close, nil
}

func writeProject(w io.Writer, p *schemas.Project, format string) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode project: %w", err)
		}
		return enc.Close()
	}
	return mapper.EncodeProject(w, p)
}
