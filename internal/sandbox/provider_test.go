package sandbox

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/throwparty/litterbox/internal/domain"
	"github.com/throwparty/litterbox/internal/scm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=Litterbox", "GIT_AUTHOR_EMAIL=litterbox@localhost",
			"GIT_COMMITTER_NAME=Litterbox", "GIT_COMMITTER_EMAIL=litterbox@localhost",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello"), 0o644))
	run("add", ".")
	run("commit", "-m", "init")

	return dir
}

type fakeCompute struct {
	mu sync.Mutex

	ensureImageErr   error
	createErr        error
	uploadErr        error
	deleteErr        error
	execResult       domain.ExecutionResult
	execErr          error
	deletedContainer []string
	created          []domain.ContainerSpec
}

func (f *fakeCompute) EnsureImage(ctx context.Context, ref string) error { return f.ensureImageErr }

func (f *fakeCompute) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.created = append(f.created, spec)
	return "container-" + spec.Name, nil
}

func (f *fakeCompute) InspectContainer(ctx context.Context, id string) (domain.ContainerInspection, error) {
	return domain.ContainerInspection{}, nil
}

func (f *fakeCompute) Pause(ctx context.Context, id string) error  { return nil }
func (f *fakeCompute) Resume(ctx context.Context, id string) error { return nil }

func (f *fakeCompute) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedContainer = append(f.deletedContainer, id)
	return f.deleteErr
}

func (f *fakeCompute) Exec(ctx context.Context, id string, argv []string, workdir string) (domain.ExecutionResult, error) {
	return f.execResult, f.execErr
}

func (f *fakeCompute) UploadPath(ctx context.Context, id, hostPath, destDir string) error {
	return f.uploadErr
}

func (f *fakeCompute) DownloadPath(ctx context.Context, id, srcPath, hostDest string) error {
	return nil
}

type fakePorts struct {
	mappings []domain.ForwardedPortMapping
	err      error
}

func (f *fakePorts) Allocate(ports []domain.ForwardedPort) ([]domain.ForwardedPortMapping, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.mappings, nil
}

func newTestProvider(t *testing.T, compute *fakeCompute, ports *fakePorts) (*Provider, string) {
	t.Helper()

	dir := initRepo(t)
	engine, err := scm.Open(dir)
	require.NoError(t, err)

	p, err := New(testLogger(), scm.NewLocked(engine), compute, ports)
	require.NoError(t, err)

	return p, dir
}

func TestCreateHappyPath(t *testing.T) {
	compute := &fakeCompute{}
	ports := &fakePorts{mappings: []domain.ForwardedPortMapping{
		{Name: "web", Target: 8080, HostPort: 19080, EnvVar: "LITTERBOX_FWD_PORT_WEB"},
	}}
	p, _ := newTestProvider(t, compute, ports)

	meta, err := p.Create(context.Background(), "My Feature", domain.SandboxConfig{
		Image:          "alpine:3",
		SetupCommand:   "",
		ForwardedPorts: []domain.ForwardedPort{{Name: "web", Target: 8080}},
	})
	require.NoError(t, err)

	assert.Equal(t, "my-feature", meta.Name)
	assert.Equal(t, domain.StatusActive, meta.Status)
	assert.Equal(t, "litterbox/my-feature", meta.BranchName)
	assert.Len(t, meta.ForwardedPorts, 1)
	assert.Equal(t, 19080, meta.ForwardedPorts[0].HostPort)
	assert.Len(t, compute.created, 1)
	assert.Empty(t, compute.deletedContainer)
}

func TestCreateRollsBackBranchOnContainerFailure(t *testing.T) {
	compute := &fakeCompute{createErr: assertErr("boom")}
	ports := &fakePorts{}
	p, dir := newTestProvider(t, compute, ports)

	_, err := p.Create(context.Background(), "broken", domain.SandboxConfig{Image: "alpine:3"})
	require.Error(t, err)

	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/litterbox/broken")
	cmd.Dir = dir
	assert.Error(t, cmd.Run(), "branch must have been rolled back")
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	compute := &fakeCompute{}
	ports := &fakePorts{}
	p, _ := newTestProvider(t, compute, ports)

	_, err := p.Create(context.Background(), "x", domain.SandboxConfig{Image: ""})
	require.ErrorIs(t, err, domain.ErrConfig)
	assert.Empty(t, compute.created)
}

func TestCreateSurfacesSetupCommandFailure(t *testing.T) {
	compute := &fakeCompute{execResult: domain.ExecutionResult{ExitCode: 1, Stderr: "nope"}}
	ports := &fakePorts{}
	p, dir := newTestProvider(t, compute, ports)

	_, err := p.Create(context.Background(), "setup-fails", domain.SandboxConfig{
		Image:        "alpine:3",
		SetupCommand: "false",
	})
	require.Error(t, err)

	var setupErr *domain.SetupCommandFailedError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, int64(1), setupErr.ExitCode)

	assert.Len(t, compute.deletedContainer, 1, "container must be torn down")

	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/litterbox/setup-fails")
	cmd.Dir = dir
	assert.Error(t, cmd.Run(), "branch must have been rolled back")
}

func TestDeleteIsIdempotentWhenAlreadyGone(t *testing.T) {
	compute := &fakeCompute{}
	ports := &fakePorts{}
	p, _ := newTestProvider(t, compute, ports)

	meta := domain.SandboxMetadata{Name: "missing", ContainerID: "container-missing"}
	err := p.Delete(context.Background(), meta)
	assert.NoError(t, err, "a branch that was never created is treated as already gone")
	assert.Equal(t, []string{"container-missing"}, compute.deletedContainer)
}

func TestDeleteSurfacesComputeErrorAndStillDeletesBranch(t *testing.T) {
	compute := &fakeCompute{}
	ports := &fakePorts{}
	p, dir := newTestProvider(t, compute, ports)

	meta, err := p.Create(context.Background(), "to-delete", domain.SandboxConfig{Image: "alpine:3"})
	require.NoError(t, err)

	compute.deleteErr = assertErr("container engine unreachable")

	err = p.Delete(context.Background(), meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container engine unreachable")

	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/litterbox/to-delete")
	cmd.Dir = dir
	assert.Error(t, cmd.Run(), "branch must still be deleted despite the compute error")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
