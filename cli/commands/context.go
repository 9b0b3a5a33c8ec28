// Package commands implements litterbox's CLI subcommands: list, stdio,
// pause, resume, delete, shell. A small Context built once in NewContext
// is threaded through every command; litterbox talks to a local git repo
// and a local container engine only, so there is no RPC client or
// registry wiring to carry.
package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/throwparty/litterbox/internal/compute"
	"github.com/throwparty/litterbox/internal/config"
	"github.com/throwparty/litterbox/internal/portalloc"
	"github.com/throwparty/litterbox/internal/sandbox"
	"github.com/throwparty/litterbox/internal/scm"
)

// defaultPortRange is the host-port window the CLI allocates forwarded
// ports from; .litterbox.toml has no setting that changes it.
var defaultPortRange = portalloc.Range{Start: 3000, End: 8000}

// Context is the state every subcommand needs: where the repo lives, its
// loaded config, and the wired SCM/compute/provider stack.
type Context struct {
	Log    *slog.Logger
	Stdout io.Writer
	Stderr io.Writer

	RepoDir string
	Config  *config.Config

	Scm      scm.Scm
	Compute  *compute.Engine
	Provider *sandbox.Provider
}

// Printf writes to the context's stdout.
func (c *Context) Printf(format string, args ...any) {
	fmt.Fprintf(c.Stdout, format, args...)
}

// NewContext wires a Context rooted at the current working directory:
// opens the local git repo, loads .litterbox.toml, connects to the
// container engine, and assembles the sandbox provider.
func NewContext(verbose bool) (*Context, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dir, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}

	engine, err := scm.Open(dir)
	if err != nil {
		return nil, err
	}
	lockedScm := scm.NewLocked(engine)

	computeEngine, err := compute.New()
	if err != nil {
		return nil, err
	}

	ports, err := portalloc.New(defaultPortRange)
	if err != nil {
		return nil, err
	}

	provider, err := sandbox.New(log, lockedScm, computeEngine, ports)
	if err != nil {
		return nil, err
	}

	return &Context{
		Log:      log,
		Stdout:   os.Stdout,
		Stderr:   os.Stderr,
		RepoDir:  dir,
		Config:   cfg,
		Scm:      lockedScm,
		Compute:  computeEngine,
		Provider: provider,
	}, nil
}

// containerName returns the deterministic, name-based container identifier
// for a sandbox slug. The compute engine and the Docker API it
// wraps accept a container name wherever an ID is expected, so the CLI
// never needs to persist the provider's create-time ID across process
// restarts; it rebuilds the name from the slug every time.
func (c *Context) containerName(slug string) string {
	return fmt.Sprintf("litterbox-%s-%s", c.Provider.RepoPrefix, slug)
}
