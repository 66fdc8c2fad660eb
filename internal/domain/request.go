package domain

import (
	"fmt"
	"net/url"
	"strings"
)

// DefaultIntent is used when a run request carries no modernization intent.
const DefaultIntent = "Modernize the stack while preserving every feature and API contract."

// RunRequest is the immutable input of one pipeline run.
type RunRequest struct {
	RepositoryURL string `json:"repo_url"`
	Intent        string `json:"vibe_instructions"`

	// Aliases accepted on the wire.
	RepositoryReference string `json:"repository_reference,omitempty"`
	IntentAlias         string `json:"intent,omitempty"`
}

// Normalize folds the wire aliases into the canonical fields.
func (r RunRequest) Normalize() RunRequest {
	if r.RepositoryURL == "" {
		r.RepositoryURL = r.RepositoryReference
	}
	if r.Intent == "" {
		r.Intent = r.IntentAlias
	}
	r.RepositoryURL = strings.TrimSpace(r.RepositoryURL)
	r.Intent = strings.TrimSpace(r.Intent)
	if r.Intent == "" {
		r.Intent = DefaultIntent
	}
	r.RepositoryReference = ""
	r.IntentAlias = ""
	return r
}

// Validate checks the required fields.
func (r RunRequest) Validate() error {
	if r.RepositoryURL == "" {
		return fmt.Errorf("%w: repo_url is required", ErrInvalidRequest)
	}
	return ValidateRepositoryURL(r.RepositoryURL)
}

// ValidateRepositoryURL checks that the reference is an absolute http(s) URL.
func ValidateRepositoryURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: repo_url: %v", ErrInvalidRequest, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: repo_url must be an http(s) URL", ErrInvalidRequest)
	}
	return nil
}

// CommitRequest is the body of the deploy endpoint. One call commits one artifact.
type CommitRequest struct {
	RepositoryURL       string `json:"repo_url"`
	RepositoryReference string `json:"repository_reference,omitempty"`
	Filename            string `json:"filename"`
	Content             string `json:"content"`
}

// Normalize folds the wire aliases into the canonical fields.
func (r CommitRequest) Normalize() CommitRequest {
	if r.RepositoryURL == "" {
		r.RepositoryURL = r.RepositoryReference
	}
	r.RepositoryReference = ""
	r.RepositoryURL = strings.TrimSpace(r.RepositoryURL)
	r.Filename = strings.TrimSpace(r.Filename)
	return r
}

// Validate checks the required fields.
func (r CommitRequest) Validate() error {
	if r.RepositoryURL == "" {
		return fmt.Errorf("%w: repo_url is required", ErrInvalidRequest)
	}
	if r.Filename == "" {
		return fmt.Errorf("%w: filename is required", ErrInvalidRequest)
	}
	return ValidateRepositoryURL(r.RepositoryURL)
}

// Artifact returns the artifact carried by the request.
func (r CommitRequest) Artifact() Artifact {
	return Artifact{Filename: r.Filename, Content: r.Content}
}

// DeploymentOutcome is the result of committing one or more artifacts.
type DeploymentOutcome struct {
	Status    DeployStatus `json:"status"`
	Message   string       `json:"message"`
	CommitURL string       `json:"commit_url,omitempty"`
	Filename  string       `json:"filename,omitempty"`
}

// Succeeded reports whether the outcome is a success.
func (o DeploymentOutcome) Succeeded() bool {
	return o.Status == DeployStatusSuccess
}
