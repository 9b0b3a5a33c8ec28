package commands

import (
	"context"
	"fmt"

	"github.com/throwparty/litterbox/internal/domain"
)

// resolve rebuilds a SandboxMetadata for name by slugifying it, deriving
// the deterministic container name, and inspecting the container for its
// current status. The CLI has no persistent store of its own: every
// subcommand after `create` (via the MCP tools) re-derives identity from
// the name on every invocation.
func (c *Context) resolve(ctx context.Context, name string) (domain.SandboxMetadata, error) {
	slug := domain.Slugify(name)
	if slug == "" {
		return domain.SandboxMetadata{}, fmt.Errorf("%w: %q", domain.ErrInvalidName, name)
	}

	containerID := c.containerName(slug)

	inspection, err := c.Compute.InspectContainer(ctx, containerID)
	if err != nil {
		if domain.IsNotFound(err) {
			return domain.SandboxMetadata{}, fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, name)
		}
		return domain.SandboxMetadata{}, err
	}

	status := domain.StatusActive
	reason := ""
	switch {
	case inspection.Paused:
		status = domain.StatusPaused
	case !inspection.Running:
		status = domain.StatusError
		reason = "container is not running"
	}

	mappings, err := c.Provider.PortMappings(ctx, containerID, c.Config.Ports)
	if err != nil {
		return domain.SandboxMetadata{}, err
	}

	return domain.SandboxMetadata{
		Name:           slug,
		BranchName:     "litterbox/" + slug,
		ContainerID:    containerID,
		Status:         status,
		StatusReason:   reason,
		ForwardedPorts: mappings,
	}, nil
}
