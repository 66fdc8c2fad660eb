package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/lazarus/internal/client"
	"github.com/xiaot623/lazarus/internal/domain"
)

const defaultServer = "http://localhost:8000"

type resurrectOptions struct {
	server  string
	repo    string
	intent  string
	out     string
	preview string
}

func newResurrectCommand(a *app) *cobra.Command {
	var opts resurrectOptions
	cmd := &cobra.Command{
		Use:   "resurrect",
		Short: "resurrect a repository through a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResurrect(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", defaultServer, "lazarus server URL")
	flags.StringVar(&opts.repo, "repo", "", "legacy repository URL")
	flags.StringVar(&opts.intent, "intent", "", "modernization intent")
	flags.StringVar(&opts.out, "out", "", "write the result bundle to this file")
	flags.StringVar(&opts.preview, "preview", "", "write the preview document to this file")
	_ = cmd.MarkFlagRequired("repo")
	return cmd
}

func runResurrect(cmd *cobra.Command, opts resurrectOptions) error {
	out := cmd.OutOrStdout()
	req := domain.RunRequest{RepositoryURL: opts.repo, Intent: opts.intent}

	var (
		result  *domain.ResultEvent
		failure *domain.FailureEvent
	)
	err := client.New(opts.server).Resurrect(cmd.Context(), req, func(ev domain.Event) {
		switch ev := ev.(type) {
		case domain.LogEvent:
			fmt.Fprintln(out, ev.Message)
		case domain.DebugEvent:
			log.Debug().Msg(ev.Message)
		case domain.ResultEvent:
			result = &ev
		case domain.FailureEvent:
			failure = &ev
		}
	})
	if err != nil {
		return err
	}
	if failure != nil {
		return fmt.Errorf("resurrection failed: %s", failure.Reason)
	}
	if result == nil {
		return errors.New("resurrection ended without a result")
	}

	printResult(out, *result)
	if opts.out != "" {
		if err := writeBundle(opts.out, newBundle(opts.repo, *result)); err != nil {
			return err
		}
		fmt.Fprintf(out, "Bundle written to %s\n", opts.out)
	}
	if opts.preview != "" {
		if !result.HasPreview() {
			fmt.Fprintln(out, "No preview available.")
			return nil
		}
		if err := os.WriteFile(opts.preview, []byte(*result.Preview), 0o644); err != nil {
			return fmt.Errorf("failed to write preview: %w", err)
		}
		fmt.Fprintf(out, "Preview written to %s\n", opts.preview)
	}
	return nil
}

func printResult(w io.Writer, res domain.ResultEvent) {
	fmt.Fprintf(w, "Status: %s\n", res.Status)
	for _, a := range res.Artifacts {
		fmt.Fprintf(w, "  %s (%d bytes)\n", a.Filename, len(a.Content))
	}
	if res.PreviewURL != "" {
		fmt.Fprintf(w, "Preview: %s\n", res.PreviewURL)
	}
}
