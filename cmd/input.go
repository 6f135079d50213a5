// File: cmd/input.go
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/config"
	"github.com/xkilldash9x/tmscan/internal/mapper"
)

// model is a threat model ready for analysis, with everything learned while
// producing it.
type model struct {
	Project     *schemas.Project
	Diagnostics []schemas.Diagnostic
	CustomRules []schemas.RuleDefinition
}

// readInput reads path, or the command's stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// loadModel reads a diagram and maps it, or reads an already mapped threat
// model when asOTM is set.
func loadModel(cmd *cobra.Command, path string, asOTM bool, cfg config.Interface, logger *zap.Logger) (*model, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return nil, err
	}

	if asOTM {
		project, err := mapper.DecodeProject(data)
		if err != nil {
			return nil, err
		}
		if err := project.Validate(); err != nil {
			return nil, fmt.Errorf("invalid threat model: %w", err)
		}
		return &model{Project: project}, nil
	}

	m := mapper.New(logger, mapper.WithStrict(cfg.Mapper().Strict))
	req, project, diags, err := m.Map(data)
	if err != nil {
		return nil, fmt.Errorf("failed to map diagram to OTM: %w", err)
	}
	logDiagnostics(logger, diags)
	return &model{Project: project, Diagnostics: diags, CustomRules: req.CustomRules}, nil
}

func logDiagnostics(logger *zap.Logger, diags []schemas.Diagnostic) {
	for _, d := range diags {
		fields := []zap.Field{zap.String("source", d.Source), zap.String("item_id", d.ItemID)}
		if d.Err != nil {
			fields = append(fields, zap.Error(d.Err))
		}
		if d.Level != schemas.DiagnosticInfo {
			logger.Warn(d.Message, fields...)
		} else {
			logger.Info(d.Message, fields...)
		}
	}
}
