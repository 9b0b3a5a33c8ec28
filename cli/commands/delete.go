package commands

import (
	"context"
	"flag"
	"fmt"

	"github.com/throwparty/litterbox/internal/domain"
)

// DeleteCommand implements `litterbox delete <name> [--force]`.
//
// The refusal check is "running && !paused": a paused sandbox can be
// deleted without --force.
type DeleteCommand struct{}

func (c *DeleteCommand) Synopsis() string { return "Delete a sandbox" }

func (c *DeleteCommand) Help() string {
	return "Usage: litterbox delete <name> [--force]\n\n" +
		"Refuses to delete a running, unpaused sandbox unless --force is given."
}

func (c *DeleteCommand) Run(args []string) int {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	force := fs.Bool("force", false, "delete even if the sandbox's container is running")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rest := fs.Args()
	if len(rest) != 1 {
		fmt.Println(c.Help())
		return 1
	}

	cctx, err := NewContext(false)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	ctx := context.Background()

	meta, err := cctx.resolve(ctx, rest[0])
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	if meta.Status == domain.StatusActive && !*force {
		fmt.Fprintf(cctx.Stderr, "sandbox %q is running; pass --force to delete anyway\n", meta.Name)
		return 1
	}

	if err := cctx.Provider.Delete(ctx, meta); err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	cctx.Printf("deleted %s\n", meta.Name)
	return 0
}
