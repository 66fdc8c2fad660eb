// Package service implements the resurrection pipeline and the deployment step.
package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/adapter/model"
	"github.com/xiaot623/lazarus/internal/adapter/preview"
	"github.com/xiaot623/lazarus/internal/adapter/repository"
	"github.com/xiaot623/lazarus/internal/adapter/sandbox"
	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/policy"
)

// SourceFetcher reads a legacy repository.
type SourceFetcher interface {
	Fetch(ctx context.Context, repoURL string) (*repository.Snapshot, error)
}

// Generator produces files from a repository snapshot and intent.
type Generator interface {
	Generate(ctx context.Context, in model.GenerateInput, emit func(model.Phase) error) (*model.Generation, error)
}

// RepositoryWriter commits one artifact to the migration branch and returns
// a reviewable URL.
type RepositoryWriter interface {
	Commit(ctx context.Context, repoURL string, a domain.Artifact) (string, error)
}

// Dependencies are the collaborators of a Service. Previews, Policy and
// Metrics are optional.
type Dependencies struct {
	Source     SourceFetcher
	Generator  Generator
	Sandbox    sandbox.Sandbox
	Repository RepositoryWriter
	Previews   preview.Publisher
	Policy     *policy.Engine
	Metrics    *metrics.Metrics
}

// Options tune the pipeline.
type Options struct {
	// SandboxTimeout bounds a sandbox execution that outlives its client.
	SandboxTimeout time.Duration
	// PreviewTTL is how long a published preview stays reachable.
	PreviewTTL time.Duration
	// Branch is the migration branch named in commit messages.
	Branch string
}

// Service runs resurrections and commits.
type Service struct {
	source    SourceFetcher
	generator Generator
	sandbox   sandbox.Sandbox
	repo      RepositoryWriter
	previews  preview.Publisher
	policy    *policy.Engine
	metrics   *metrics.Metrics
	opts      Options
	logger    zerolog.Logger
}

// New creates a Service.
func New(deps Dependencies, opts Options) *Service {
	if deps.Sandbox == nil {
		deps.Sandbox = sandbox.Disabled{}
	}
	if opts.SandboxTimeout <= 0 {
		opts.SandboxTimeout = 3 * time.Minute
	}
	if opts.PreviewTTL <= 0 {
		opts.PreviewTTL = 30 * time.Minute
	}
	if opts.Branch == "" {
		opts.Branch = "lazarus-resurrection"
	}
	return &Service{
		source:    deps.Source,
		generator: deps.Generator,
		sandbox:   deps.Sandbox,
		repo:      deps.Repository,
		previews:  deps.Previews,
		policy:    deps.Policy,
		metrics:   deps.Metrics,
		opts:      opts,
		logger:    log.With().Str("component", "service").Logger(),
	}
}
