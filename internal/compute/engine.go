// Package compute wraps the Docker Engine API behind a narrow set of
// idempotent verbs: image ensure/pull, container CRUD, exec streaming,
// and tar upload/download.
package compute

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/throwparty/litterbox/internal/domain"
)

// Engine is the container-engine client the sandbox provider drives.
type Engine struct {
	cli *dockerclient.Client
}

// New connects to the Docker daemon using the standard environment
// variables (DOCKER_HOST, DOCKER_TLS_VERIFY, ...).
func New() (*Engine, error) {
	cli, err := dockerclient.NewClientWithOpts(dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation())
	if err != nil {
		return nil, domain.NewComputeError(domain.ComputeConnection, err)
	}
	return &Engine{cli: cli}, nil
}

// EnsureImage makes sure image is present locally, pulling it and draining
// the pull's progress stream to completion if it is missing.
func (e *Engine) EnsureImage(ctx context.Context, ref string) error {
	_, _, err := e.cli.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return domain.NewComputeError(domain.ComputeImageInspect, err)
	}

	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return domain.NewComputeError(domain.ComputeImagePull, err)
	}
	defer rc.Close()

	if _, err := io.Copy(io.Discard, rc); err != nil {
		return domain.NewComputeError(domain.ComputeImagePull, err)
	}

	return nil
}

// CreateContainer builds and starts a container from spec, returning its
// id. A 409 name conflict is translated into ContainerNameConflictError
// for the provider to map onto SandboxExists.
func (e *Engine) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port, err := nat.NewPort("tcp", fmt.Sprint(p.ContainerPort))
		if err != nil {
			return "", domain.NewComputeError(domain.ComputeContainerProvision, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: fmt.Sprint(p.HostPort)}}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Cmd:          spec.Command,
		WorkingDir:   spec.Workdir,
		Env:          env,
		ExposedPorts: exposed,
		Tty:          false,
	}

	hostCfg := &container.HostConfig{
		PortBindings: bindings,
	}

	resp, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsConflict(err) {
			return "", &domain.ContainerNameConflictError{Name: spec.Name}
		}
		return "", domain.NewComputeError(domain.ComputeContainerProvision, err)
	}

	if err := e.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", domain.NewComputeError(domain.ComputeContainerProvision, err)
	}

	return resp.ID, nil
}

// InspectContainer returns env and port-binding state for id.
func (e *Engine) InspectContainer(ctx context.Context, id string) (domain.ContainerInspection, error) {
	info, err := e.cli.ContainerInspect(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.ContainerInspection{}, &domain.ContainerNotFoundError{ID: id}
		}
		return domain.ContainerInspection{}, domain.NewComputeError(domain.ComputeContainerInspect, err)
	}

	env := make(map[string]string)
	if info.Config != nil {
		for _, kv := range info.Config.Env {
			k, v, ok := strings.Cut(kv, "=")
			if ok {
				env[k] = v
			}
		}
	}

	var bindings []domain.PortBinding
	if info.NetworkSettings != nil {
		for port, bs := range info.NetworkSettings.Ports {
			containerPort, err := strconv.ParseUint(port.Port(), 10, 16)
			if err != nil {
				continue
			}
			for _, b := range bs {
				hostPort, err := strconv.Atoi(b.HostPort)
				if err != nil {
					continue
				}
				bindings = append(bindings, domain.PortBinding{
					ContainerPort: uint16(containerPort),
					HostIP:        b.HostIP,
					HostPort:      hostPort,
				})
			}
		}
	}

	var running, paused bool
	if info.State != nil {
		running = info.State.Running
		paused = info.State.Paused
	}

	return domain.ContainerInspection{
		Env:          env,
		PortBindings: bindings,
		Running:      running,
		Paused:       paused,
	}, nil
}

// Pause is idempotent: an already-paused or missing container is not an
// error.
func (e *Engine) Pause(ctx context.Context, id string) error {
	err := e.cli.ContainerPause(ctx, id)
	if err == nil || errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return nil
	}
	return domain.NewComputeError(domain.ComputeContainerPause, err)
}

// Resume is idempotent: an already-running or missing container is not an
// error.
func (e *Engine) Resume(ctx context.Context, id string) error {
	err := e.cli.ContainerUnpause(ctx, id)
	if err == nil || errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return nil
	}
	return domain.NewComputeError(domain.ComputeContainerResume, err)
}

// Delete removes a container, force and idempotent.
func (e *Engine) Delete(ctx context.Context, id string) error {
	err := e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	if err == nil || errdefs.IsNotFound(err) {
		return nil
	}
	return domain.NewComputeError(domain.ComputeContainerDelete, err)
}

// ListContainers returns every container (running or not) whose primary
// name begins with namePrefix, for CLI discovery (`pause --all-repos`).
func (e *Engine) ListContainers(ctx context.Context, namePrefix string) ([]domain.ContainerSummary, error) {
	filterArgs := filters.NewArgs(filters.Arg("name", namePrefix))

	raw, err := e.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: filterArgs})
	if err != nil {
		return nil, domain.NewComputeError(domain.ComputeContainerInspect, err)
	}

	summaries := make([]domain.ContainerSummary, 0, len(raw))
	for _, c := range raw {
		name := strings.TrimPrefix(firstName(c.Names), "/")
		if !strings.HasPrefix(name, strings.TrimPrefix(namePrefix, "/")) {
			continue
		}
		summaries = append(summaries, domain.ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Running: c.State == "running",
			Paused:  c.State == "paused",
		})
	}

	return summaries, nil
}

func firstName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// Exec runs argv in workdir inside id, collecting stdout/stderr fully and
// reading the exit code from a post-exec inspect.
func (e *Engine) Exec(ctx context.Context, id string, argv []string, workdir string) (domain.ExecutionResult, error) {
	created, err := e.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          argv,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.ExecutionResult{}, &domain.ContainerNotFoundError{ID: id}
		}
		return domain.ExecutionResult{}, domain.NewComputeError(domain.ComputeContainerExec, err)
	}

	attach, err := e.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return domain.ExecutionResult{}, domain.NewComputeError(domain.ComputeContainerExec, err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return domain.ExecutionResult{}, domain.NewComputeError(domain.ComputeContainerExec, err)
	}

	inspect, err := e.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return domain.ExecutionResult{}, domain.NewComputeError(domain.ComputeContainerExec, err)
	}

	exitCode := inspect.ExitCode
	if inspect.Running {
		exitCode = math.MaxInt32
	}

	return domain.ExecutionResult{
		ExitCode: int64(exitCode),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}
