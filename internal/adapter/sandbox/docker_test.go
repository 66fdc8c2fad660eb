package sandbox

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/lazarus/internal/config"
	"github.com/xiaot623/lazarus/internal/domain"
)

type execOutcome struct {
	stdout string
	stderr string
	exit   int
}

// fakeDocker scripts exec outcomes by the first word of the command.
type fakeDocker struct {
	mu        sync.Mutex
	outcomes  map[string]execOutcome
	createErr error
	previewTar []byte

	execs    map[string][]string
	commands [][]string
	uploaded map[string]string
	removed  []string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		outcomes: map[string]execOutcome{},
		execs:    map[string][]string{},
		uploaded: map[string]string{},
	}
}

func (f *fakeDocker) ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(`{"status":"done"}`)), nil
}

func (f *fakeDocker) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *network.NetworkingConfig, platform *ocispec.Platform, name string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	return container.CreateResponse{ID: "c0ffee0000000000"}, nil
}

func (f *fakeDocker) ContainerStart(ctx context.Context, id string, options container.StartOptions) error {
	return nil
}

func (f *fakeDocker) ContainerRemove(ctx context.Context, id string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func (f *fakeDocker) CopyToContainer(ctx context.Context, id, dst string, content io.Reader, options types.CopyToContainerOptions) error {
	tr := tar.NewReader(content)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		data, _ := io.ReadAll(tr)
		f.uploaded[hdr.Name] = string(data)
	}
}

func (f *fakeDocker) CopyFromContainer(ctx context.Context, id, src string) (io.ReadCloser, types.ContainerPathStat, error) {
	if f.previewTar == nil {
		return nil, types.ContainerPathStat{}, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(f.previewTar)), types.ContainerPathStat{Name: PreviewFile}, nil
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, id string, cfg types.ExecConfig) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	execID := "exec-" + string(rune('a'+len(f.execs)))
	f.execs[execID] = cfg.Cmd
	f.commands = append(f.commands, cfg.Cmd)
	return types.IDResponse{ID: execID}, nil
}

func (f *fakeDocker) outcome(execID string) execOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[f.execs[execID][0]]
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, cfg types.ExecStartCheck) (types.HijackedResponse, error) {
	out := f.outcome(execID)
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(out.stdout))
	if out.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(out.stderr))
	}
	conn, peer := net.Pipe()
	peer.Close()
	return types.HijackedResponse{Conn: conn, Reader: bufio.NewReader(&buf)}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error) {
	return types.ContainerExecInspect{ExecID: execID, ExitCode: f.outcome(execID).exit}, nil
}

func testConfig() config.SandboxConfig {
	return config.SandboxConfig{
		Image:         "python:3.12",
		WorkDir:       "/home/user",
		Timeout:       time.Minute,
		PreviewTTL:    30 * time.Minute,
		PythonInstall: "pip install fastapi uvicorn flask flask-cors",
	}
}

func twoFiles() domain.Artifacts {
	return domain.Artifacts{
		{Filename: "modernized_stack/backend/main.py", Content: "print('hi')"},
		{Filename: "modernized_stack/preview.html", Content: "<html></html>"},
	}
}

func TestExecuteCapturesPreviewFromStdout(t *testing.T) {
	fake := newFakeDocker()
	fake.outcomes["python"] = execOutcome{stdout: "booting\n<!DOCTYPE html><html><body>hi</body></html>\ndone\n"}
	sb := newDocker(fake, testConfig())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sb.now = func() time.Time { return now }

	var phases []Phase
	res, err := sb.Execute(context.Background(), ExecRequest{
		Files:      twoFiles(),
		Entrypoint: "modernized_stack/backend/main.py",
	}, func(p Phase) { phases = append(phases, p) })
	require.NoError(t, err)

	assert.False(t, res.Failed())
	require.NotNil(t, res.Preview)
	assert.Equal(t, "<!DOCTYPE html><html><body>hi</body></html>", *res.Preview)
	assert.Equal(t, now.Add(30*time.Minute), res.ExpiresAt)

	assert.Equal(t, []Phase{PhaseProvision, PhaseUpload, PhaseInstall, PhaseRun, PhaseTeardown}, phases)
	assert.Equal(t, [][]string{
		{"sh", "-c", "pip install fastapi uvicorn flask flask-cors"},
		{"python", "modernized_stack/backend/main.py"},
	}, fake.commands)
	assert.Equal(t, "print('hi')", fake.uploaded["modernized_stack/backend/main.py"])
	assert.Contains(t, fake.uploaded, "modernized_stack/backend/")
	assert.Equal(t, []string{"c0ffee0000000000"}, fake.removed)
}

func TestExecuteNodeSkipsInstall(t *testing.T) {
	fake := newFakeDocker()
	fake.outcomes["node"] = execOutcome{stdout: "ok"}
	sb := newDocker(fake, testConfig())

	res, err := sb.Execute(context.Background(), ExecRequest{
		Files:      domain.Artifacts{{Filename: "server.js", Content: "console.log('ok')"}},
		Entrypoint: "server.js",
	}, nil)
	require.NoError(t, err)

	assert.Nil(t, res.Preview)
	assert.Equal(t, [][]string{{"node", "server.js"}}, fake.commands)
}

func TestExecuteReadsPreviewFile(t *testing.T) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	doc := "<html>file</html>"
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: PreviewFile, Mode: 0o644, Size: int64(len(doc)), Typeflag: tar.TypeReg}))
	_, _ = tw.Write([]byte(doc))
	require.NoError(t, tw.Close())

	fake := newFakeDocker()
	fake.previewTar = buf.Bytes()
	sb := newDocker(fake, testConfig())

	res, err := sb.Execute(context.Background(), ExecRequest{Files: twoFiles(), Entrypoint: "modernized_stack/backend/main.py"}, nil)
	require.NoError(t, err)
	require.NotNil(t, res.Preview)
	assert.Equal(t, doc, *res.Preview)
}

func TestExecuteNonZeroExit(t *testing.T) {
	fake := newFakeDocker()
	fake.outcomes["python"] = execOutcome{stderr: "Traceback", exit: 1}
	sb := newDocker(fake, testConfig())

	res, err := sb.Execute(context.Background(), ExecRequest{Files: twoFiles(), Entrypoint: "modernized_stack/backend/main.py"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "Traceback", res.Stderr)
}

func TestExecuteInstallFailureStopsRun(t *testing.T) {
	fake := newFakeDocker()
	fake.outcomes["sh"] = execOutcome{stderr: "no network", exit: 1}
	sb := newDocker(fake, testConfig())

	res, err := sb.Execute(context.Background(), ExecRequest{Files: twoFiles(), Entrypoint: "modernized_stack/backend/main.py"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Len(t, fake.commands, 1)
	assert.Len(t, fake.removed, 1)
}

func TestExecuteProvisionFailure(t *testing.T) {
	fake := newFakeDocker()
	fake.createErr = errors.New("daemon down")
	sb := newDocker(fake, testConfig())

	_, err := sb.Execute(context.Background(), ExecRequest{Files: twoFiles(), Entrypoint: "modernized_stack/backend/main.py"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
	assert.Empty(t, fake.removed)
}

func TestExecuteRejectsEscapingPaths(t *testing.T) {
	sb := newDocker(newFakeDocker(), testConfig())

	_, err := sb.Execute(context.Background(), ExecRequest{
		Files:      domain.Artifacts{{Filename: "../evil.py", Content: "x"}},
		Entrypoint: "main.py",
	}, nil)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)

	_, err = sb.Execute(context.Background(), ExecRequest{Entrypoint: "/etc/main.py"}, nil)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Execute(context.Background(), ExecRequest{}, nil)
	assert.ErrorIs(t, err, domain.ErrValidationFailed)
}

func TestExtractPreview(t *testing.T) {
	doc, ok := ExtractPreview("x <!doctype html><html>a</html> y <!DOCTYPE html><html>b</html>")
	assert.True(t, ok)
	assert.Equal(t, "<!doctype html><html>a</html>", doc)

	_, ok = ExtractPreview("plain output")
	assert.False(t, ok)
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitWriter{w: &buf, n: 4}
	n, err := lw.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", buf.String())
}
