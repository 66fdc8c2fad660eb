// Package repository reads legacy repositories from GitHub and commits
// resurrected files back to a migration branch.
package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/config"
	"github.com/xiaot623/lazarus/internal/domain"
)

// ErrMissingToken is returned by write operations without a token.
var ErrMissingToken = errors.New("GITHUB_TOKEN is missing")

// Ref identifies a GitHub repository.
type Ref struct {
	Owner string
	Name  string
}

func (r Ref) String() string {
	return r.Owner + "/" + r.Name
}

// ParseURL extracts owner and name from https://github.com/<owner>/<repo>.
func ParseURL(raw string) (Ref, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Ref{}, fmt.Errorf("%w: invalid GitHub URL: %v", domain.ErrInvalidRequest, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	if host != "github.com" {
		return Ref{}, fmt.Errorf("%w: invalid GitHub URL: host %q", domain.ErrInvalidRequest, u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Ref{}, fmt.Errorf("%w: invalid GitHub URL: missing owner or repository", domain.ErrInvalidRequest)
	}
	return Ref{Owner: parts[0], Name: strings.TrimSuffix(parts[1], ".git")}, nil
}

// CompareURL is the reviewable link of a migration branch.
func CompareURL(ref Ref, base, branch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/compare/%s...%s?expand=1", ref.Owner, ref.Name, base, branch)
}

// CommitMessage is the message of a resurrection commit.
func CommitMessage(filename string) string {
	return "Lazarus Resurrection: " + filename
}

// Client wraps the GitHub API.
type Client struct {
	gh     *github.Client
	cfg    config.RepositoryConfig
	token  bool
	logger zerolog.Logger
}

// New creates a client. A non-empty APIBaseURL replaces api.github.com.
func New(cfg config.RepositoryConfig) (*Client, error) {
	gh := github.NewClient(nil)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.APIBaseURL != "" {
		base := cfg.APIBaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid repository API base URL: %w", err)
		}
		gh.BaseURL = u
	}
	return &Client{
		gh:     gh,
		cfg:    cfg,
		token:  cfg.Token != "",
		logger: log.With().Str("component", "repository").Logger(),
	}, nil
}

// DefaultBranch returns the repository's default branch, or the configured
// base branch when it cannot be read.
func (c *Client) DefaultBranch(ctx context.Context, ref Ref) string {
	repo, _, err := c.gh.Repositories.Get(ctx, ref.Owner, ref.Name)
	if err != nil || repo.GetDefaultBranch() == "" {
		return c.baseBranch()
	}
	return repo.GetDefaultBranch()
}

// EnsureBranch creates refs/heads/<branch> from the head of base if it does
// not exist yet.
func (c *Client) EnsureBranch(ctx context.Context, ref Ref, branch, base string) error {
	_, _, err := c.gh.Git.GetRef(ctx, ref.Owner, ref.Name, "heads/"+branch)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("%w: error checking branch: %v", domain.ErrCommitFailed, err)
	}

	c.logger.Info().Str("repo", ref.String()).Str("branch", branch).Str("base", base).Msg("creating migration branch")
	baseRef, _, err := c.gh.Git.GetRef(ctx, ref.Owner, ref.Name, "heads/"+base)
	if err != nil {
		return fmt.Errorf("%w: could not find %s branch to fork from: %v", domain.ErrCommitFailed, base, err)
	}

	_, _, err = c.gh.Git.CreateRef(ctx, ref.Owner, ref.Name, &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: baseRef.GetObject().SHA},
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create branch: %v", domain.ErrCommitFailed, err)
	}
	return nil
}

// CommitFile creates or updates one file on branch.
func (c *Client) CommitFile(ctx context.Context, ref Ref, branch string, a domain.Artifact) error {
	if !c.token {
		return fmt.Errorf("%w: %v", domain.ErrCommitFailed, ErrMissingToken)
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.String(CommitMessage(a.Filename)),
		Content: []byte(a.Content),
		Branch:  github.String(branch),
	}

	existing, _, _, err := c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Name, a.Filename, &github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && existing != nil:
		opts.SHA = existing.SHA
		_, _, err = c.gh.Repositories.UpdateFile(ctx, ref.Owner, ref.Name, a.Filename, opts)
	case err == nil || isNotFound(err):
		_, _, err = c.gh.Repositories.CreateFile(ctx, ref.Owner, ref.Name, a.Filename, opts)
	}
	if err != nil {
		return fmt.Errorf("%w: GitHub API error: %v", domain.ErrCommitFailed, err)
	}

	c.logger.Info().Str("repo", ref.String()).Str("branch", branch).Str("file", a.Filename).Msg("committed file")
	return nil
}

// Commit commits one artifact to the migration branch, creating the branch
// when needed, and returns the compare URL.
func (c *Client) Commit(ctx context.Context, repoURL string, a domain.Artifact) (string, error) {
	if !c.token {
		return "", fmt.Errorf("%w: %v", domain.ErrCommitFailed, ErrMissingToken)
	}
	ref, err := ParseURL(repoURL)
	if err != nil {
		return "", err
	}

	base := c.DefaultBranch(ctx, ref)
	branch := c.cfg.Branch
	if err := c.EnsureBranch(ctx, ref, branch, base); err != nil {
		return "", err
	}
	if err := c.CommitFile(ctx, ref, branch, a); err != nil {
		return "", err
	}
	return CompareURL(ref, base, branch), nil
}

// Branch is the configured migration branch.
func (c *Client) Branch() string {
	return c.cfg.Branch
}

func (c *Client) baseBranch() string {
	if c.cfg.BaseBranch != "" {
		return c.cfg.BaseBranch
	}
	return "main"
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}
