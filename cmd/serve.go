// File: cmd/serve.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/internal/analysis/rules"
	"github.com/xkilldash9x/tmscan/internal/mapper"
	"github.com/xkilldash9x/tmscan/internal/observability"
	"github.com/xkilldash9x/tmscan/internal/orchestrator"
	"github.com/xkilldash9x/tmscan/internal/server"
	"github.com/xkilldash9x/tmscan/internal/vcs"
)

func newServeCmd(provider storeProvider) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API used by the diagram editor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := getConfig(ctx)
			logger := observability.GetLogger()

			serverCfg := cfg.Server()
			if addr != "" {
				serverCfg.Addr = addr
			}

			metrics := observability.NewMetrics()
			catalog := rules.ConfiguredCatalog(logger, cfg.Analysis().DisabledRules...)
			deps := server.Deps{
				Mapper: mapper.New(logger, mapper.WithStrict(cfg.Mapper().Strict)),
				Analyzer: orchestrator.New(catalog,
					orchestrator.WithLogger(logger),
					orchestrator.WithConcurrency(cfg.Analysis().Concurrency),
					orchestrator.WithRecorder(metrics),
				),
				Repository: vcs.NewService(cfg.GitHub(), logger),
				Metrics:    metrics,
			}

			if cfg.Database().URL != "" {
				st, cleanup, err := provider.Create(ctx, cfg)
				if err != nil {
					return err
				}
				defer cleanup()
				deps.Store = st
			} else {
				logger.Warn("No database configured; reports will not be persisted")
			}
			if !cfg.GitHub().Configured() {
				logger.Info("GitHub token or repository not configured; save-to-github is disabled")
			}

			srv, err := server.New(serverCfg, deps, logger)
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			logger.Info("Starting HTTP API", zap.String("addr", serverCfg.Addr), zap.Bool("auth", serverCfg.Auth.Enabled()))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}
