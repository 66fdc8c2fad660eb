package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xiaot623/lazarus/internal/adapter/llm"
	"github.com/xiaot623/lazarus/internal/adapter/model"
	"github.com/xiaot623/lazarus/internal/adapter/preview"
	"github.com/xiaot623/lazarus/internal/adapter/repository"
	"github.com/xiaot623/lazarus/internal/adapter/sandbox"
	"github.com/xiaot623/lazarus/internal/config"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/policy"
	"github.com/xiaot623/lazarus/internal/service"
	transport "github.com/xiaot623/lazarus/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the resurrection HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg)
		},
	}

	flags := cmd.Flags()
	flags.Int("port", 8000, "HTTP listen port")
	flags.Bool("mock", false, "use the built-in mock model instead of the remote endpoint")
	bindFlag(a.v, "http.port", flags.Lookup("port"))
	bindFlag(a.v, "model.mock", flags.Lookup("mock"))
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().
		Int("port", cfg.HTTPPort).
		Str("model", cfg.Model.Name).
		Bool("mock", cfg.Model.Mock).
		Bool("sandbox", cfg.Sandbox.Enabled).
		Bool("previews", cfg.Preview.Enabled()).
		Msg("starting lazarus")

	m := metrics.New("lazarus")
	svc, err := buildService(ctx, cfg, m)
	if err != nil {
		return err
	}
	e := transport.NewServer(svc, m)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	log.Info().Int("port", cfg.HTTPPort).Msg("API started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down lazarus")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("failed to shutdown server gracefully")
	}
	log.Info().Msg("lazarus stopped")
	return nil
}

// buildService wires the collaborators named by cfg.
func buildService(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*service.Service, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, err
	}
	if cfg.Repository.Token == "" {
		log.Warn().Msg("GITHUB_TOKEN is missing, commits will fail and reads are rate limited")
	}

	engine, err := policy.Load(ctx, cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact policy: %w", err)
	}

	if !cfg.Model.Mock && cfg.Model.APIKey == "" {
		log.Warn().Msg("model API key is missing, generation will fail")
	}
	gen := model.NewGenerator(llm.NewLLMClient(cfg.Model), cfg.Model.Name)

	deps := service.Dependencies{
		Source:     repo,
		Generator:  gen,
		Sandbox:    newSandbox(cfg.Sandbox),
		Repository: repo,
		Policy:     engine,
		Metrics:    m,
	}
	if cfg.Preview.Enabled() {
		store, err := preview.NewStore(cfg.Preview)
		if err != nil {
			return nil, err
		}
		deps.Previews = store
	}

	return service.New(deps, service.Options{
		SandboxTimeout: cfg.Sandbox.Timeout,
		PreviewTTL:     cfg.Sandbox.PreviewTTL,
		Branch:         cfg.Repository.Branch,
	}), nil
}

// newSandbox returns the docker sandbox, or a disabled one when docker is
// turned off or unreachable. Runs then finish degraded.
func newSandbox(cfg config.SandboxConfig) sandbox.Sandbox {
	if !cfg.Enabled {
		return sandbox.Disabled{}
	}
	d, err := sandbox.NewDocker(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("sandbox unavailable, results will be unverified")
		return sandbox.Disabled{}
	}
	return d
}
