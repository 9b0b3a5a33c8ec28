package commands

import (
	"context"
	"flag"
	"fmt"
	"strings"
)

// ListCommand implements `litterbox list`: every sandbox branch in
// this repo, joined with its container's running/paused state.
type ListCommand struct{}

func (c *ListCommand) Synopsis() string { return "List sandboxes in this repo" }

func (c *ListCommand) Help() string {
	return "Usage: litterbox list\n\nList every sandbox (branch + container pair) known to this repo."
}

func (c *ListCommand) Run(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cctx, err := NewContext(false)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	ctx := context.Background()

	slugs, err := cctx.Scm.ListSandboxes()
	if err != nil {
		cctx.Printf("%v\n", err)
		return 1
	}

	if len(slugs) == 0 {
		cctx.Printf("no sandboxes\n")
		return 0
	}

	for _, slug := range slugs {
		meta, err := cctx.resolve(ctx, slug)
		if err != nil {
			cctx.Printf("%-30s  %s\n", slug, err)
			continue
		}

		var ports []string
		for _, p := range meta.ForwardedPorts {
			ports = append(ports, fmt.Sprintf("%s:%d", p.Name, p.HostPort))
		}

		cctx.Printf("%-30s  %-8s  %s\n", slug, meta.Status, strings.Join(ports, ", "))
	}

	return 0
}
