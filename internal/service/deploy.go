package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/domain"
	"github.com/xiaot623/lazarus/internal/metrics"
	"github.com/xiaot623/lazarus/internal/policy"
)

// Committer commits one artifact and reports the outcome.
type Committer interface {
	Commit(ctx context.Context, repoURL string, a domain.Artifact) (*domain.DeploymentOutcome, error)
}

// Deployer commits artifacts in order and stops at the first failure.
// Commits already applied are left on the branch. Deploying the same list
// twice commits twice.
type Deployer struct {
	committer Committer
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	// OnStage observes deployment stage transitions.
	OnStage func(domain.DeployStage)
}

// NewDeployer creates a Deployer. m may be nil.
func NewDeployer(c Committer, m *metrics.Metrics) *Deployer {
	return &Deployer{
		committer: c,
		metrics:   m,
		logger:    log.With().Str("component", "deployer").Logger(),
	}
}

// Deploy commits every artifact and returns the aggregated outcome: success
// with the last commit URL, or an error naming the failing file.
func (d *Deployer) Deploy(ctx context.Context, repoURL string, artifacts domain.Artifacts) domain.DeploymentOutcome {
	d.enter(domain.DeployStageIdle)
	if len(artifacts) == 0 {
		d.enter(domain.DeployStageFailedAt(0))
		return domain.DeploymentOutcome{Status: domain.DeployStatusError, Message: "No artifacts to deploy."}
	}

	var last *domain.DeploymentOutcome
	for i, a := range artifacts {
		d.enter(domain.DeployStageCommitting(i))

		outcome, err := d.commit(ctx, repoURL, a)
		if err != nil || !outcome.Succeeded() {
			var detail string
			if err != nil {
				detail = err.Error()
			} else {
				detail = outcome.Message
			}
			d.logger.Warn().Str("file", a.Filename).Int("index", i).Str("detail", detail).Msg("commit failed, stopping deployment")
			d.enter(domain.DeployStageFailedAt(i))
			return domain.DeploymentOutcome{
				Status:   domain.DeployStatusError,
				Message:  "Failed to commit: " + a.Filename,
				Filename: a.Filename,
			}
		}
		last = outcome
	}

	d.enter(domain.DeployStageCommitted)
	return domain.DeploymentOutcome{
		Status:    domain.DeployStatusSuccess,
		Message:   fmt.Sprintf("Committed %d files. Ready to Merge.", len(artifacts)),
		CommitURL: last.CommitURL,
	}
}

func (d *Deployer) commit(ctx context.Context, repoURL string, a domain.Artifact) (*domain.DeploymentOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	outcome, err := d.committer.Commit(ctx, repoURL, a)
	if err == nil && outcome == nil {
		err = fmt.Errorf("%w: empty outcome", domain.ErrCommitFailed)
	}
	return outcome, err
}

func (d *Deployer) enter(stage domain.DeployStage) {
	d.logger.Debug().Str("stage", stage.String()).Msg("deploy stage")
	if d.OnStage != nil {
		d.OnStage(stage)
	}
}

// CommitArtifact commits one artifact to the migration branch. It never
// returns an error: failures are reported as an error outcome.
func (s *Service) CommitArtifact(ctx context.Context, req domain.CommitRequest) domain.DeploymentOutcome {
	req = req.Normalize()
	outcome := s.commitArtifact(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordCommit(string(outcome.Status))
	}
	return outcome
}

func (s *Service) commitArtifact(ctx context.Context, req domain.CommitRequest) domain.DeploymentOutcome {
	errorOutcome := func(msg string) domain.DeploymentOutcome {
		return domain.DeploymentOutcome{Status: domain.DeployStatusError, Message: msg, Filename: req.Filename}
	}

	if err := req.Validate(); err != nil {
		return errorOutcome(err.Error())
	}
	if s.repo == nil {
		return errorOutcome("repository client not configured")
	}
	if s.policy != nil {
		if err := s.policy.Check(ctx, policy.ActionCommit, req.Artifact()); err != nil {
			return errorOutcome(err.Error())
		}
	}

	url, err := s.repo.Commit(ctx, req.RepositoryURL, req.Artifact())
	if err != nil {
		s.logger.Warn().Err(err).Str("repo", req.RepositoryURL).Str("file", req.Filename).Msg("commit failed")
		return errorOutcome(err.Error())
	}

	return domain.DeploymentOutcome{
		Status:    domain.DeployStatusSuccess,
		Message:   fmt.Sprintf("Committed to %s. Ready to Merge.", s.opts.Branch),
		CommitURL: url,
		Filename:  req.Filename,
	}
}

// Commit implements Committer on the server side.
func (s *Service) Commit(ctx context.Context, repoURL string, a domain.Artifact) (*domain.DeploymentOutcome, error) {
	outcome := s.CommitArtifact(ctx, domain.CommitRequest{RepositoryURL: repoURL, Filename: a.Filename, Content: a.Content})
	return &outcome, nil
}
