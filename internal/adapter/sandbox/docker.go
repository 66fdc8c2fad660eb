package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/lazarus/internal/config"
	"github.com/xiaot623/lazarus/internal/domain"
)

const (
	labelManaged   = "lazarus.sandbox"
	maxOutputBytes = 1 << 20
	removeTimeout  = 30 * time.Second
)

// dockerAPI is the subset of the docker client used by the sandbox.
type dockerAPI interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options types.CopyToContainerOptions) error
	CopyFromContainer(ctx context.Context, containerID, srcPath string) (io.ReadCloser, types.ContainerPathStat, error)
	ContainerExecCreate(ctx context.Context, containerID string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

// Docker runs executions in throwaway docker containers.
type Docker struct {
	dc     dockerAPI
	cfg    config.SandboxConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewDocker connects to the docker daemon named by cfg.DockerHost, or the
// environment when it is empty.
func NewDocker(cfg config.SandboxConfig) (*Docker, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.DockerHost != "" {
		opts = append(opts, client.WithHost(cfg.DockerHost))
	} else {
		opts = append(opts, client.FromEnv)
	}

	dc, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	return newDocker(dc, cfg), nil
}

func newDocker(dc dockerAPI, cfg config.SandboxConfig) *Docker {
	return &Docker{
		dc:     dc,
		cfg:    cfg,
		logger: log.With().Str("component", "sandbox").Logger(),
		now:    time.Now,
	}
}

// Execute provisions a container, uploads the files, installs runtime
// dependencies, runs the entrypoint and removes the container. Infrastructure
// errors wrap domain.ErrValidationFailed; a program that exits non-zero is
// reported through ExecResult.ExitCode.
func (d *Docker) Execute(ctx context.Context, req ExecRequest, progress func(Phase)) (*ExecResult, error) {
	if progress == nil {
		progress = func(Phase) {}
	}
	if d.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.Timeout)
		defer cancel()
	}

	entry, err := cleanPath(req.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidationFailed, err)
	}
	rt := RuntimeFor(entry, d.cfg.PythonInstall, d.cfg.NodeInstall)
	command := req.Command
	if len(command) == 0 {
		command = rt.Command
	}

	progress(PhaseProvision)
	id, err := d.provision(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: provision: %v", domain.ErrValidationFailed, err)
	}
	logger := d.logger.With().Str("container", shortID(id)).Logger()
	defer func() {
		progress(PhaseTeardown)
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		if err := d.dc.ContainerRemove(rmCtx, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn().Err(err).Msg("unable to remove sandbox container")
		}
	}()

	progress(PhaseUpload)
	archive, err := tarFiles(req.Files)
	if err != nil {
		return nil, fmt.Errorf("%w: upload: %v", domain.ErrValidationFailed, err)
	}
	if err := d.dc.CopyToContainer(ctx, id, d.cfg.WorkDir, archive, types.CopyToContainerOptions{}); err != nil {
		return nil, fmt.Errorf("%w: upload: %v", domain.ErrValidationFailed, err)
	}

	if rt.Install != "" {
		progress(PhaseInstall)
		res, err := d.exec(ctx, id, []string{"sh", "-c", rt.Install})
		if err != nil {
			return nil, fmt.Errorf("%w: install: %v", domain.ErrValidationFailed, err)
		}
		if res.Failed() {
			logger.Warn().Int("exit_code", res.ExitCode).Str("runtime", rt.Name).Msg("dependency install failed")
			return res, nil
		}
	}

	progress(PhaseRun)
	res, err := d.exec(ctx, id, command)
	if err != nil {
		return nil, fmt.Errorf("%w: run: %v", domain.ErrValidationFailed, err)
	}
	logger.Info().Int("exit_code", res.ExitCode).Int("stdout_bytes", len(res.Stdout)).Msg("sandbox run finished")

	if doc, ok := ExtractPreview(res.Stdout); ok {
		res.Preview = &doc
	} else if doc, ok := d.readPreviewFile(ctx, id); ok {
		res.Preview = &doc
	}
	res.ExpiresAt = d.now().Add(d.cfg.PreviewTTL)
	return res, nil
}

func (d *Docker) provision(ctx context.Context) (string, error) {
	out, err := d.dc.ImagePull(ctx, d.cfg.Image, image.PullOptions{})
	if err != nil {
		return "", fmt.Errorf("unable to pull image: %w", err)
	}
	_, _ = io.Copy(io.Discard, out)
	out.Close()

	lifetime := int(d.cfg.Timeout.Seconds()) + 60
	hostCfg := &container.HostConfig{}
	if d.cfg.MemoryMB > 0 {
		hostCfg.Resources = container.Resources{Memory: d.cfg.MemoryMB << 20}
	}

	name := "lazarus-" + uuid.New().String()[:8]
	resp, err := d.dc.ContainerCreate(ctx, &container.Config{
		Image:      d.cfg.Image,
		Cmd:        []string{"sleep", strconv.Itoa(lifetime)},
		WorkingDir: d.cfg.WorkDir,
		Labels: map[string]string{
			labelManaged: "true",
		},
	}, hostCfg, nil, nil, name)
	if err != nil {
		return "", fmt.Errorf("unable to create container: %w", err)
	}

	if err := d.dc.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		rmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
		defer cancel()
		_ = d.dc.ContainerRemove(rmCtx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("unable to start container: %w", err)
	}
	return resp.ID, nil
}

// exec runs cmd in the working directory and collects its output.
func (d *Docker) exec(ctx context.Context, id string, cmd []string) (*ExecResult, error) {
	created, err := d.dc.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          cmd,
		WorkingDir:   d.cfg.WorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to create exec: %w", err)
	}

	attach, err := d.dc.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return nil, fmt.Errorf("unable to attach exec: %w", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(&limitWriter{w: &stdout, n: maxOutputBytes}, &limitWriter{w: &stderr, n: maxOutputBytes}, attach.Reader)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("unable to read exec output: %w", err)
		}
	}

	inspect, err := d.dc.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return nil, fmt.Errorf("unable to inspect exec: %w", err)
	}

	return &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

func (d *Docker) readPreviewFile(ctx context.Context, id string) (string, bool) {
	rc, _, err := d.dc.CopyFromContainer(ctx, id, path.Join(d.cfg.WorkDir, PreviewFile))
	if err != nil {
		return "", false
	}
	defer rc.Close()

	doc, err := readSingleFile(rc, maxOutputBytes)
	if err != nil || doc == "" {
		return "", false
	}
	return doc, true
}

// limitWriter discards everything past n bytes.
type limitWriter struct {
	w io.Writer
	n int
}

func (l *limitWriter) Write(p []byte) (int, error) {
	if l.n <= 0 {
		return len(p), nil
	}
	keep := p
	if len(keep) > l.n {
		keep = keep[:l.n]
	}
	written, err := l.w.Write(keep)
	l.n -= written
	if err != nil {
		return written, err
	}
	return len(p), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
