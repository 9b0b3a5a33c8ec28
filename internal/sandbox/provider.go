// Package sandbox orchestrates the SCM, compute, and port-allocation
// layers into the sandbox lifecycle operations: create, pause, resume,
// delete, shell, upload_path, and download_path. It is the
// compensating-transaction layer: every step of create is reversible, and
// a failure at any step tears down everything completed so far, in
// reverse order, swallowing secondary teardown errors.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/throwparty/litterbox/internal/domain"
	"github.com/throwparty/litterbox/internal/scm"
	"github.com/throwparty/litterbox/pkg/multierror"
)

// Compute is the subset of the compute engine the provider drives.
type Compute interface {
	EnsureImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error)
	InspectContainer(ctx context.Context, id string) (domain.ContainerInspection, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Exec(ctx context.Context, id string, argv []string, workdir string) (domain.ExecutionResult, error)
	UploadPath(ctx context.Context, id, hostPath, destDir string) error
	DownloadPath(ctx context.Context, id, srcPath, hostDest string) error
}

// PortAllocator is the subset of portalloc.Allocator the provider drives.
type PortAllocator interface {
	Allocate(ports []domain.ForwardedPort) ([]domain.ForwardedPortMapping, error)
}

const srcDir = "/src"

// Provider ties together the SCM, compute engine, and port allocator
// behind the sandbox lifecycle.
type Provider struct {
	Log        *slog.Logger
	Scm        scm.Scm
	Compute    Compute
	Ports      PortAllocator
	RepoPrefix string
}

// New constructs a Provider, resolving the container-naming repo prefix
// from the SCM.
func New(log *slog.Logger, s scm.Scm, c Compute, p PortAllocator) (*Provider, error) {
	prefix, err := s.RepoPrefix()
	if err != nil {
		return nil, err
	}

	return &Provider{
		Log:        log.With("module", "sandbox"),
		Scm:        s,
		Compute:    c,
		Ports:      p,
		RepoPrefix: prefix,
	}, nil
}

func (p *Provider) containerName(slug string) string {
	return fmt.Sprintf("litterbox-%s-%s", p.RepoPrefix, slug)
}

// Create runs the reversible pipeline.
func (p *Provider) Create(ctx context.Context, name string, cfg domain.SandboxConfig) (_ domain.SandboxMetadata, err error) {
	if err := cfg.Validate(); err != nil {
		return domain.SandboxMetadata{}, err
	}

	slug := domain.Slugify(name)
	if slug == "" {
		return domain.SandboxMetadata{}, fmt.Errorf("%w: %q slugifies to empty name", domain.ErrInvalidName, name)
	}

	p.Log.Info("creating sandbox", "slug", slug)

	var rollback []func()
	defer func() {
		if err != nil {
			p.Log.Error("create failed, rolling back", "slug", slug, "err", err)
			for i := len(rollback) - 1; i >= 0; i-- {
				rollback[i]()
			}
		}
	}()

	branch, err := p.Scm.CreateBranch(slug)
	if err != nil {
		return domain.SandboxMetadata{}, err
	}
	rollback = append(rollback, func() {
		if derr := p.Scm.DeleteBranch(slug); derr != nil {
			p.Log.Warn("rollback: failed to delete branch", "slug", slug, "err", derr)
		}
	})

	staging, err := p.stageArchive(branch)
	if err != nil {
		return domain.SandboxMetadata{}, err
	}
	defer os.RemoveAll(staging)

	if err = p.Compute.EnsureImage(ctx, cfg.Image); err != nil {
		return domain.SandboxMetadata{}, err
	}

	mappings, err := p.Ports.Allocate(cfg.ForwardedPorts)
	if err != nil {
		return domain.SandboxMetadata{}, err
	}

	env := make(map[string]string, len(mappings))
	var ports []domain.PortSpec
	for _, m := range mappings {
		env[m.EnvVar] = fmt.Sprint(m.HostPort)
		ports = append(ports, domain.PortSpec{ContainerPort: m.Target, HostPort: m.HostPort})
	}

	spec := domain.ContainerSpec{
		Name:    p.containerName(slug),
		Image:   cfg.Image,
		Workdir: srcDir,
		Env:     env,
		Ports:   ports,
	}

	containerID, err := p.Compute.CreateContainer(ctx, spec)
	if err != nil {
		var conflict *domain.ContainerNameConflictError
		if errors.As(err, &conflict) {
			err = fmt.Errorf("%w: %s", domain.ErrSandboxExists, conflict.Name)
		}
		return domain.SandboxMetadata{}, err
	}
	rollback = append(rollback, func() {
		if derr := p.Compute.Delete(context.Background(), containerID); derr != nil {
			p.Log.Warn("rollback: failed to delete container", "id", containerID, "err", derr)
		}
	})

	if err = p.Compute.UploadPath(ctx, containerID, staging, srcDir); err != nil {
		return domain.SandboxMetadata{}, err
	}

	if cfg.SetupCommand != "" {
		result, execErr := p.Compute.Exec(ctx, containerID, []string{"sh", "-c", cfg.SetupCommand}, srcDir)
		if execErr != nil {
			err = execErr
			return domain.SandboxMetadata{}, err
		}
		if result.ExitCode != 0 {
			err = &domain.SetupCommandFailedError{ExitCode: result.ExitCode, Stderr: result.Stderr}
			return domain.SandboxMetadata{}, err
		}
	}

	return domain.SandboxMetadata{
		Name:           slug,
		BranchName:     branch,
		ContainerID:    containerID,
		Status:         domain.StatusActive,
		ForwardedPorts: mappings,
	}, nil
}

// stageArchive builds HEAD's tracked-file archive into a fresh temp
// directory and returns its path.
func (p *Provider) stageArchive(ref string) (string, error) {
	archive, err := p.Scm.MakeArchive(ref)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp("", stagingDirPattern("stage"))
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}

	if err := extractTarToDir(archive, dir); err != nil {
		os.RemoveAll(dir)
		return "", err
	}

	return dir, nil
}

// stagingDirPattern names a temp staging directory with a uuid so that a
// leaked directory (e.g. after a hard process kill, before the deferred
// os.RemoveAll runs) can be traced back to the create/snapshot call that
// produced it.
func stagingDirPattern(kind string) string {
	return fmt.Sprintf("litterbox-%s-%s-", kind, uuid.New().String())
}

// Pause delegates directly to the compute engine.
func (p *Provider) Pause(ctx context.Context, containerID string) error {
	return p.Compute.Pause(ctx, containerID)
}

// Resume delegates directly to the compute engine.
func (p *Provider) Resume(ctx context.Context, containerID string) error {
	return p.Compute.Resume(ctx, containerID)
}

// Delete removes the container then the branch, both idempotent under
// "already gone", aggregating any secondary failures.
func (p *Provider) Delete(ctx context.Context, meta domain.SandboxMetadata) error {
	var combined error

	if err := p.Compute.Delete(ctx, meta.ContainerID); err != nil {
		combined = err
	}

	if err := p.Scm.DeleteBranch(meta.Name); err != nil && !errors.Is(err, domain.ErrSandboxNotFound) {
		if combined == nil {
			combined = err
		} else {
			combined = multierror.Append(combined, err)
		}
	}

	return combined
}

// Snapshot downloads the sandbox's /src into a fresh staging directory and
// commits it onto the snapshot ref, removing the
// staging directory regardless of outcome.
func (p *Provider) Snapshot(ctx context.Context, meta domain.SandboxMetadata, message string) error {
	dir, err := os.MkdirTemp("", stagingDirPattern("snapshot"))
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := p.Compute.DownloadPath(ctx, meta.ContainerID, srcDir, dir); err != nil {
		return err
	}

	_, err = p.Scm.CommitSnapshotFromStaging(meta.Name, dir, message)
	return err
}

// Shell execs argv in /src inside the sandbox's container.
func (p *Provider) Shell(ctx context.Context, meta domain.SandboxMetadata, argv []string) (domain.ExecutionResult, error) {
	return p.Compute.Exec(ctx, meta.ContainerID, argv, srcDir)
}

// UploadPath forwards to the compute engine unchanged.
func (p *Provider) UploadPath(ctx context.Context, meta domain.SandboxMetadata, hostPath, destDir string) error {
	return p.Compute.UploadPath(ctx, meta.ContainerID, hostPath, destDir)
}

// DownloadPath forwards to the compute engine unchanged.
func (p *Provider) DownloadPath(ctx context.Context, meta domain.SandboxMetadata, srcPath, hostDest string) error {
	return p.Compute.DownloadPath(ctx, meta.ContainerID, srcPath, hostDest)
}

// PortMappings reconstructs forwarded-port mappings by joining
// LITTERBOX_FWD_PORT_* env vars to the container's port bindings.
func (p *Provider) PortMappings(ctx context.Context, containerID string, forwarded []domain.ForwardedPort) ([]domain.ForwardedPortMapping, error) {
	inspection, err := p.Compute.InspectContainer(ctx, containerID)
	if err != nil {
		return nil, err
	}

	byTarget := make(map[uint16]int, len(inspection.PortBindings))
	for _, b := range inspection.PortBindings {
		byTarget[b.ContainerPort] = b.HostPort
	}

	mappings := make([]domain.ForwardedPortMapping, 0, len(forwarded))
	for _, fp := range forwarded {
		envVar := "LITTERBOX_FWD_PORT_" + domain.EnvToken(domain.Slugify(fp.Name))
		hostPort := byTarget[fp.Target]
		if v, ok := inspection.EnvLookup(envVar); ok {
			if n, convErr := parsePort(v); convErr == nil {
				hostPort = n
			}
		}

		mappings = append(mappings, domain.ForwardedPortMapping{
			Name:     fp.Name,
			Target:   fp.Target,
			HostPort: hostPort,
			EnvVar:   envVar,
		})
	}

	return mappings, nil
}
