// Package sandbox executes generated code in an ephemeral container and
// captures its output and preview document.
package sandbox

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Phase is a step of a sandbox execution.
type Phase string

const (
	PhaseProvision Phase = "provision"
	PhaseUpload    Phase = "upload"
	PhaseInstall   Phase = "install"
	PhaseRun       Phase = "run"
	PhaseTeardown  Phase = "teardown"
)

// ExecRequest is one validation execution.
type ExecRequest struct {
	Files      domain.Artifacts
	Entrypoint string
	// Command overrides the runtime command derived from Entrypoint.
	Command []string
}

// ExecResult is the captured outcome of an execution.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Preview  *string
	// ExpiresAt bounds how long the preview is expected to stay reachable.
	ExpiresAt time.Time
}

// Failed reports whether the executed command exited non-zero.
func (r *ExecResult) Failed() bool {
	return r.ExitCode != 0
}

// Sandbox runs generated files.
type Sandbox interface {
	Execute(ctx context.Context, req ExecRequest, progress func(Phase)) (*ExecResult, error)
}

// Disabled is a Sandbox that rejects every execution.
type Disabled struct{}

// Execute always fails with ErrValidationFailed.
func (Disabled) Execute(ctx context.Context, req ExecRequest, progress func(Phase)) (*ExecResult, error) {
	return nil, fmt.Errorf("%w: sandbox not configured", domain.ErrValidationFailed)
}

// Runtime describes how an entrypoint is installed and started.
type Runtime struct {
	Name    string
	Install string
	Command []string
}

// RuntimeFor returns the runtime of an entrypoint. Python files run with
// python, anything else with node.
func RuntimeFor(entrypoint, pythonInstall, nodeInstall string) Runtime {
	if strings.HasSuffix(entrypoint, ".py") {
		return Runtime{Name: "python", Install: pythonInstall, Command: []string{"python", entrypoint}}
	}
	return Runtime{Name: "node", Install: nodeInstall, Command: []string{"node", entrypoint}}
}

var previewPattern = regexp.MustCompile(`(?is)<!DOCTYPE html>.*?</html>`)

// ExtractPreview returns the first HTML document printed to stdout.
func ExtractPreview(stdout string) (string, bool) {
	doc := previewPattern.FindString(stdout)
	return doc, doc != ""
}

// PreviewFile is the file name read from the working directory when the
// program prints no HTML document.
const PreviewFile = "preview.html"

func cleanPath(name string) (string, error) {
	p := path.Clean(strings.TrimPrefix(name, "./"))
	if p == "." || path.IsAbs(p) || strings.HasPrefix(p, "../") || p == ".." {
		return "", fmt.Errorf("invalid file path %q", name)
	}
	return p, nil
}
