package cli

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/lazarus/internal/client"
	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/service"
)

type deployOptions struct {
	server string
	repo   string
	bundle string
}

func newDeployCommand(a *app) *cobra.Command {
	var opts deployOptions
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "commit the artifacts of a result bundle to the migration branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.server, "server", defaultServer, "lazarus server URL")
	flags.StringVar(&opts.repo, "repo", "", "target repository URL (default: the bundle's repository)")
	flags.StringVar(&opts.bundle, "bundle", "", "result bundle written by resurrect --out")
	_ = cmd.MarkFlagRequired("bundle")
	return cmd
}

func runDeploy(cmd *cobra.Command, opts deployOptions) error {
	b, err := readBundle(opts.bundle)
	if err != nil {
		return err
	}
	repoURL := opts.repo
	if repoURL == "" {
		repoURL = b.RepositoryURL
	}
	if err := domain.ValidateRepositoryURL(repoURL); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	d := service.NewDeployer(client.New(opts.server), nil)
	d.OnStage = func(stage domain.DeployStage) {
		if stage.Name == "committing" && stage.Index < len(b.Artifacts) {
			fmt.Fprintf(out, "Committing %s...\n", b.Artifacts[stage.Index].Filename)
			return
		}
		log.Debug().Str("stage", stage.String()).Msg("deploy")
	}

	outcome := d.Deploy(cmd.Context(), repoURL, b.Artifacts)
	fmt.Fprintln(out, outcome.Message)
	if !outcome.Succeeded() {
		return fmt.Errorf("deployment failed")
	}
	if outcome.CommitURL != "" {
		fmt.Fprintf(out, "Review: %s\n", outcome.CommitURL)
	}
	return nil
}
