// Package tools implements the MCP tool dispatcher: the handlers
// mcp-go registers for sandbox-create, sandbox-ports, read, write, patch,
// bash, ls, glob, and grep, plus the command shaping, output classification,
// and snapshot-triggering shared by all of them.
package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/throwparty/litterbox/internal/config"
	"github.com/throwparty/litterbox/internal/domain"
	"github.com/throwparty/litterbox/internal/sandbox"
)

// Dispatcher owns the sandbox registry the MCP tools operate against: the
// provider drives the actual lifecycle, the registry resolves a tool call's
// `sandbox` name argument to the metadata the provider needs.
type Dispatcher struct {
	Log      *slog.Logger
	Provider *sandbox.Provider
	Config   *config.Config

	mu        sync.Mutex
	sandboxes map[string]domain.SandboxMetadata
}

// New constructs a Dispatcher.
func New(log *slog.Logger, p *sandbox.Provider, cfg *config.Config) *Dispatcher {
	return &Dispatcher{
		Log:       log.With("module", "tools"),
		Provider:  p,
		Config:    cfg,
		sandboxes: make(map[string]domain.SandboxMetadata),
	}
}

// Register adds every tool to s.
func (d *Dispatcher) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("sandbox-create",
		mcp.WithDescription("Create a new sandbox from the repo's configured image and setup command."),
		mcp.WithString("name", mcp.Required(), mcp.Description("human-readable sandbox name, slugified")),
	), d.handleSandboxCreate)

	s.AddTool(mcp.NewTool("sandbox-ports",
		mcp.WithDescription("Reconstruct a sandbox's forwarded port mappings."),
		mcp.WithString("sandbox", mcp.Required(), mcp.Description("sandbox name")),
	), d.handleSandboxPorts)

	s.AddTool(mcp.NewTool("read",
		mcp.WithDescription("Read a file from a sandbox."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithNumber("offset", mcp.Description("0-indexed starting line")),
		mcp.WithNumber("limit", mcp.Description("number of lines to return")),
	), d.handleRead)

	s.AddTool(mcp.NewTool("write",
		mcp.WithDescription("Overwrite a file in a sandbox with content."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("content", mcp.Required()),
	), d.handleWrite)

	s.AddTool(mcp.NewTool("patch",
		mcp.WithDescription("Apply a unified diff to a file in a sandbox."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("diff", mcp.Required()),
	), d.handlePatch)

	s.AddTool(mcp.NewTool("bash",
		mcp.WithDescription("Run a shell command in a sandbox."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("command", mcp.Required()),
		mcp.WithString("workdir", mcp.Description("defaults to /src")),
		mcp.WithNumber("timeout", mcp.Description("seconds; 0 means no timeout")),
	), d.handleBash)

	s.AddTool(mcp.NewTool("ls",
		mcp.WithDescription("List a directory in a sandbox."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithBoolean("recursive", mcp.Description("list all descendants, relative to path")),
	), d.handleLs)

	s.AddTool(mcp.NewTool("glob",
		mcp.WithDescription("Find paths under a sandbox directory matching a glob pattern."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("pattern", mcp.Required()),
		mcp.WithString("path", mcp.Description("defaults to /src")),
	), d.handleGlob)

	s.AddTool(mcp.NewTool("grep",
		mcp.WithDescription("Search file contents in a sandbox."),
		mcp.WithString("sandbox", mcp.Required()),
		mcp.WithString("pattern", mcp.Required()),
		mcp.WithString("path", mcp.Required()),
		mcp.WithString("include", mcp.Description("glob filter, e.g. *.go")),
	), d.handleGrep)
}

// Track records metadata for a sandbox the dispatcher can address by name:
// called after a successful sandbox-create, and by the CLI after it starts
// a stdio session against sandboxes created out of band.
func (d *Dispatcher) Track(meta domain.SandboxMetadata) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sandboxes[meta.Name] = meta
}

func (d *Dispatcher) resolve(name string) (domain.SandboxMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slug := domain.Slugify(name)
	meta, ok := d.sandboxes[slug]
	if !ok {
		return domain.SandboxMetadata{}, fmt.Errorf("%w: %q", domain.ErrSandboxNotFound, name)
	}
	return meta, nil
}

func (d *Dispatcher) handleSandboxCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := argString(args, "name")

	meta, err := d.Provider.Create(ctx, name, d.Config.SandboxConfig())
	if err != nil {
		return userOrInternal(err)
	}

	d.Track(meta)

	return jsonResult(meta)
}

func (d *Dispatcher) handleSandboxPorts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := argString(args, "sandbox")

	meta, err := d.resolve(name)
	if err != nil {
		return userOrInternal(err)
	}

	mappings, err := d.Provider.PortMappings(ctx, meta.ContainerID, d.Config.Ports)
	if err != nil {
		if domain.IsNotFound(err) {
			return userOrInternal(fmt.Errorf("%w: %s", domain.ErrSandboxNotFound, name))
		}
		return userOrInternal(err)
	}

	return jsonResult(mappings)
}

// isUserError reports whether err should be surfaced as an MCP
// invalid_params tool result rather than an internal_error.
func isUserError(err error) bool {
	var shellFailure *ShellFailure
	var setupFailed *domain.SetupCommandFailedError
	var patchErr *domain.PatchApplyError

	return errors.As(err, &shellFailure) ||
		errors.As(err, &setupFailed) ||
		errors.As(err, &patchErr) ||
		errors.Is(err, domain.ErrInvalidName) ||
		errors.Is(err, domain.ErrSandboxExists) ||
		errors.Is(err, domain.ErrSandboxNotFound) ||
		errors.Is(err, domain.ErrConfig)
}

// userOrInternal classifies err: a user error becomes a tool-result
// error content block (`invalid_params: ...`); anything else propagates as
// a real Go error, which mcp-go turns into a JSON-RPC internal_error.
func userOrInternal(err error) (*mcp.CallToolResult, error) {
	if isUserError(err) {
		return mcp.NewToolResultError("invalid_params: " + err.Error()), nil
	}
	return nil, err
}
