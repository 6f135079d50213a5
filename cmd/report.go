// File: cmd/report.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/tmscan/api/schemas"
	"github.com/xkilldash9x/tmscan/internal/config"
	"github.com/xkilldash9x/tmscan/internal/observability"
	"github.com/xkilldash9x/tmscan/internal/reporting"
	"github.com/xkilldash9x/tmscan/internal/store"
)

// reportStore is the slice of the store the CLI needs.
type reportStore interface {
	SaveAnalysis(ctx context.Context, project *schemas.Project, report *schemas.AnalysisReport) (string, error)
	GetReport(ctx context.Context, reportID string) (*schemas.AnalysisReport, error)
	ListReports(ctx context.Context, projectID string, limit int) ([]store.ReportRecord, error)
}

// storeProvider creates a report store and a cleanup func that releases it.
// Tests swap in an in-memory provider.
type storeProvider interface {
	Create(ctx context.Context, cfg config.Interface) (reportStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the PostgreSQL-backed provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the configured database and applies the schema.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (reportStore, func(), error) {
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (TMSCAN_DATABASE_URL)")
	}
	logger := observability.GetLogger()

	st, pool, err := store.Open(ctx, cfg.Database().URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

func newReportCmd(provider storeProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Inspect stored analysis reports",
	}
	cmd.AddCommand(newReportShowCmd(provider), newReportListCmd(provider))
	return cmd
}

func newReportShowCmd(provider storeProvider) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "show <report-id>",
		Short: "Render a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := reporting.ParseFormat(format)
			if err != nil {
				return err
			}

			st, cleanup, err := provider.Create(ctx, getConfig(ctx))
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := st.GetReport(ctx, args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("report %s not found", args[0])
			}
			if err != nil {
				return err
			}

			var reporter reporting.Reporter
			if output == "" || output == "stdout" {
				reporter = reporting.NewWithWriter(f, reporting.NopCloser(cmd.OutOrStdout()), Version)
			} else if reporter, err = reporting.New(string(f), output, Version); err != nil {
				return err
			}
			if err := reporter.Write(report); err != nil {
				_ = reporter.Close()
				return fmt.Errorf("failed to write report: %w", err)
			}
			return reporter.Close()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Report format ('json', 'yaml', 'sarif', 'text')")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Report file path (default stdout)")
	return cmd
}

func newReportListCmd(provider storeProvider) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "list <project-id>",
		Short: "List the most recent reports of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cleanup, err := provider.Create(ctx, getConfig(ctx))
			if err != nil {
				return err
			}
			defer cleanup()

			records, err := st.ListReports(ctx, args[0], limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No reports for project %s.\n", args[0])
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tTOTAL\tCRITICAL\tHIGH\tMEDIUM\tLOW")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
					r.ID, r.CreatedAt.UTC().Format(time.RFC3339),
					r.Summary.Total, r.Summary.Critical, r.Summary.High, r.Summary.Medium, r.Summary.Low)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of reports")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}
