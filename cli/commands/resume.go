package commands

import (
	"context"
	"flag"
	"fmt"
)

// ResumeCommand implements `litterbox resume <name>`.
type ResumeCommand struct{}

func (c *ResumeCommand) Synopsis() string { return "Resume a paused sandbox" }

func (c *ResumeCommand) Help() string {
	return "Usage: litterbox resume <name>"
}

func (c *ResumeCommand) Run(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
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

	if err := cctx.Provider.Resume(ctx, meta.ContainerID); err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	cctx.Printf("resumed %s\n", meta.Name)
	return 0
}
