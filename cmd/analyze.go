// File: cmd/analyze.go
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/analysis/declarative"
	"github.com/xkilldash9x/tmscan/internal/analysis/rules"
	"github.com/xkilldash9x/tmscan/internal/config"
	"github.com/xkilldash9x/tmscan/internal/observability"
	"github.com/xkilldash9x/tmscan/internal/orchestrator"
	"github.com/xkilldash9x/tmscan/internal/reporting"
	"github.com/xkilldash9x/tmscan/internal/vcs"
)

// ThresholdError is returned when an analysis finds threats at or above the
// severity given with --fail-on.
type ThresholdError struct {
	Severity schemas.Severity
	Count    int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("%d threat(s) at or above %s severity", e.Count, e.Severity)
}

type analyzeOptions struct {
	asOTM       bool
	format      string
	output      string
	ruleFiles   []string
	rulesRepo   string
	rulesPath   string
	failOn      string
	persist     bool
	concurrency int
	metricsFile string
}

func newAnalyzeCmd(provider storeProvider) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <diagram.json|otm.json|->",
		Short: "Run the threat rules against a diagram or threat model",
		Long: `Maps the diagram (or reads an OTM document with --otm), evaluates the
built-in rules followed by any custom declarative rules, and writes a report.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, args[0], opts, provider)
		},
	}

	cmd.Flags().BoolVar(&opts.asOTM, "otm", false, "Treat the input as an Open Threat Model document instead of a diagram")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Report format ('json', 'yaml', 'sarif', 'text')")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Report file path (default stdout)")
	cmd.Flags().StringSliceVarP(&opts.ruleFiles, "rules", "r", nil, "Custom rule files (JSON or YAML), in addition to analysis.rules_files")
	cmd.Flags().StringVar(&opts.rulesRepo, "rules-repo", "", "Fetch custom rules from this GitHub repository ('owner/name')")
	cmd.Flags().StringVar(&opts.rulesPath, "rules-path", "", "Path of the rules file inside --rules-repo (default github.rules_path)")
	cmd.Flags().StringVar(&opts.failOn, "fail-on", "", "Exit non-zero when a threat at or above this severity is found")
	cmd.Flags().BoolVar(&opts.persist, "persist", false, "Store the threat model and report in the database")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "j", 0, "Rules evaluated in parallel (overrides analysis.concurrency)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write run metrics in the Prometheus textfile format")
	return cmd
}

func runAnalyze(cmd *cobra.Command, input string, opts *analyzeOptions, provider storeProvider) error {
	ctx := cmd.Context()
	cfg := getConfig(ctx)
	logger := observability.GetLogger().Named("analyze")

	var threshold schemas.Severity
	if opts.failOn != "" {
		threshold = schemas.Severity(strings.ToLower(opts.failOn))
		if !threshold.Valid() {
			return fmt.Errorf("invalid --fail-on severity %q", opts.failOn)
		}
	}
	format, err := reporting.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	m, err := loadModel(cmd, input, opts.asOTM, cfg, logger)
	if err != nil {
		return err
	}

	customRules, ruleDiags, err := gatherRules(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}
	customRules = append(m.CustomRules, customRules...)
	loadDiags := append(m.Diagnostics, ruleDiags...)

	concurrency := cfg.Analysis().Concurrency
	if opts.concurrency > 0 {
		concurrency = opts.concurrency
	}
	metrics := observability.NewMetrics()
	catalog := rules.ConfiguredCatalog(logger, cfg.Analysis().DisabledRules...)
	orch := orchestrator.New(catalog,
		orchestrator.WithLogger(logger),
		orchestrator.WithConcurrency(concurrency),
		orchestrator.WithRecorder(metrics),
	)

	report := orch.Analyze(ctx, m.Project, customRules)
	if err := ctx.Err(); err != nil {
		return err
	}
	report.Diagnostics = append(loadDiags, report.Diagnostics...)
	metrics.ObserveDiagnostics(loadDiags)
	metrics.ObserveReport(report)

	if opts.persist {
		if err := persistReport(ctx, cfg, provider, m.Project, report, logger); err != nil {
			return err
		}
	}

	var reporter reporting.Reporter
	if opts.output == "" || opts.output == "stdout" {
		reporter = reporting.NewWithWriter(format, reporting.NopCloser(cmd.OutOrStdout()), Version)
	} else if reporter, err = reporting.New(string(format), opts.output, Version); err != nil {
		return err
	}
	if err := reporter.Write(report); err != nil {
		_ = reporter.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := reporter.Close(); err != nil {
		return fmt.Errorf("failed to finalize report: %w", err)
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, metrics.Registry()); err != nil {
			return fmt.Errorf("failed to write metrics file: %w", err)
		}
	}

	if threshold != "" && report.HasAtLeast(threshold) {
		count := 0
		for _, t := range report.Threats {
			if t.Severity.Rank() >= threshold.Rank() {
				count++
			}
		}
		return &ThresholdError{Severity: threshold, Count: count}
	}
	return nil
}

// gatherRules loads configured and flagged rule files, then rules from
// source control when --rules-repo is set. Rules that do not decode are
// returned as diagnostics.
func gatherRules(ctx context.Context, cfg config.Interface, opts *analyzeOptions, logger *zap.Logger) ([]schemas.RuleDefinition, []schemas.Diagnostic, error) {
	paths := append(append([]string{}, cfg.Analysis().RulesFiles...), opts.ruleFiles...)
	defs, diags, err := declarative.LoadFiles(paths...)
	if err != nil {
		return nil, nil, err
	}

	if opts.rulesRepo != "" {
		svc := vcs.NewService(cfg.GitHub(), logger)
		remote, remoteDiags, err := svc.FetchRules(ctx, opts.rulesRepo, opts.rulesPath, "")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch rules from %s: %w", opts.rulesRepo, err)
		}
		defs = append(defs, remote...)
		diags = append(diags, remoteDiags...)
	}

	if len(defs) > 0 {
		logger.Info("Loaded custom rules", zap.Int("count", len(defs)))
	}
	logDiagnostics(logger, diags)
	return defs, diags, nil
}

func persistReport(ctx context.Context, cfg config.Interface, provider storeProvider, project *schemas.Project, report *schemas.AnalysisReport, logger *zap.Logger) error {
	st, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	id, err := st.SaveAnalysis(ctx, project, report)
	if err != nil {
		return fmt.Errorf("failed to persist analysis: %w", err)
	}
	logger.Info("Analysis persisted", zap.String("report_id", id), zap.String("project_id", report.ProjectID))
	return nil
}
