// File: cmd/github.go
package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tmscan/internal/observability"
	"github.com/xkilldash9x/tmscan/internal/vcs"
)

type githubOptions struct {
	repo  string
	token string
}

func newGitHubCmd() *cobra.Command {
	opts := &githubOptions{}

	cmd := &cobra.Command{
		Use:   "github",
		Short: "Read and write threat models and rules in a GitHub repository",
	}
	cmd.PersistentFlags().StringVar(&opts.repo, "repo", "", "Repository in 'owner/name' form (default github.repo)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "Access token (default github.token)")

	cmd.AddCommand(newGitHubFetchCmd(opts), newGitHubPushCmd(opts))
	return cmd
}

func newGitHubFetchCmd(opts *githubOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch <path>",
		Short: "Print a file from the repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc := vcs.NewService(getConfig(ctx).GitHub(), observability.GetLogger())

			content, err := svc.FetchFile(ctx, opts.repo, args[0], opts.token)
			if err != nil {
				return err
			}

			w, closeFn, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			if _, err := io.WriteString(w, content); err != nil {
				_ = closeFn()
				return fmt.Errorf("failed to write content: %w", err)
			}
			return closeFn()
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the content to this file (default stdout)")
	return cmd
}

func newGitHubPushCmd(opts *githubOptions) *cobra.Command {
	var (
		file    string
		message string
	)

	cmd := &cobra.Command{
		Use:   "push <path>",
		Short: "Create or update a file in the repository",
		Long:  "Reads content from --file (or stdin with '-') and writes it to <path>, creating the file when it does not exist.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}

			svc := vcs.NewService(getConfig(ctx).GitHub(), observability.GetLogger())
			result, err := svc.PushFile(ctx, opts.repo, args[0], string(data), message, opts.token)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Status, result.Path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Local file to upload, '-' for stdin")
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message (default 'Update <path>')")
	return cmd
}
