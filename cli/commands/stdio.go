package commands

import (
	"context"
	"flag"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/throwparty/litterbox/internal/domain"
	"github.com/throwparty/litterbox/internal/tools"
)

// StdioCommand implements `litterbox stdio`: serves the MCP tool
// surface over stdio for the lifetime of the process.
type StdioCommand struct{}

func (c *StdioCommand) Synopsis() string { return "Serve the MCP tool surface over stdio" }

func (c *StdioCommand) Help() string {
	return "Usage: litterbox stdio\n\nSpeak the litterbox MCP tools (read, write, patch, bash, ls, glob, grep,\nsandbox-create, sandbox-ports) as JSON-RPC 2.0 over stdin/stdout."
}

func (c *StdioCommand) Run(args []string) int {
	fs := flag.NewFlagSet("stdio", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cctx, err := NewContext(false)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	dispatcher := tools.New(cctx.Log, cctx.Provider, cctx.Config)

	if err := trackExisting(context.Background(), cctx, dispatcher); err != nil {
		cctx.Log.Warn("failed to pre-populate existing sandboxes", "err", err)
	}

	s := server.NewMCPServer("litterbox", "0.1.0")
	dispatcher.Register(s)

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	return 0
}

// trackExisting registers every sandbox already present in this repo with
// the dispatcher, so a tool session started against a repo with sandboxes
// from a prior session can address them by name immediately.
func trackExisting(ctx context.Context, cctx *Context, dispatcher *tools.Dispatcher) error {
	slugs, err := cctx.Scm.ListSandboxes()
	if err != nil {
		return err
	}

	for _, slug := range slugs {
		meta, err := cctx.resolve(ctx, slug)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return err
		}
		dispatcher.Track(meta)
	}

	return nil
}
