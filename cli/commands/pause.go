package commands

import (
	"context"
	"flag"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// PauseCommand implements `litterbox pause [name|--all-envs|--all-repos]`:
// pause a single sandbox, every sandbox in this repo, or every
// litterbox container system-wide.
type PauseCommand struct{}

func (c *PauseCommand) Synopsis() string { return "Pause one or all sandboxes" }

func (c *PauseCommand) Help() string {
	return "Usage: litterbox pause <name>\n       litterbox pause --all-envs\n       litterbox pause --all-repos\n\n" +
		"--all-envs pauses every sandbox in this repo.\n" +
		"--all-repos discovers and pauses every running litterbox container on the host, across repos."
}

func (c *PauseCommand) Run(args []string) int {
	fs := flag.NewFlagSet("pause", flag.ContinueOnError)
	allEnvs := fs.Bool("all-envs", false, "pause every sandbox in this repo")
	allRepos := fs.Bool("all-repos", false, "pause every running litterbox container system-wide")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cctx, err := NewContext(false)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	ctx := context.Background()

	switch {
	case *allRepos:
		return c.pauseAllRepos(ctx, cctx)
	case *allEnvs:
		return c.pauseAllEnvs(ctx, cctx)
	default:
		rest := fs.Args()
		if len(rest) != 1 {
			fmt.Fprintln(cctx.Stderr, c.Help())
			return 1
		}
		return c.pauseOne(ctx, cctx, rest[0])
	}
}

func (c *PauseCommand) pauseOne(ctx context.Context, cctx *Context, name string) int {
	meta, err := cctx.resolve(ctx, name)
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	if err := cctx.Provider.Pause(ctx, meta.ContainerID); err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	cctx.Printf("paused %s\n", meta.Name)
	return 0
}

// pauseAllEnvs pauses every sandbox branch in this repo concurrently: the
// containers are independent, so there is no reason to serialize the
// compute-engine round trips.
func (c *PauseCommand) pauseAllEnvs(ctx context.Context, cctx *Context) int {
	slugs, err := cctx.Scm.ListSandboxes()
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	return c.pauseConcurrently(ctx, cctx, slugs)
}

func (c *PauseCommand) pauseAllRepos(ctx context.Context, cctx *Context) int {
	summaries, err := cctx.Compute.ListContainers(ctx, "/litterbox-")
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]string, len(summaries))
	for i, s := range summaries {
		i, s := i, s
		if !s.Running || s.Paused {
			continue
		}
		g.Go(func() error {
			if err := cctx.Provider.Pause(gctx, s.ID); err != nil {
				results[i] = fmt.Sprintf("%s: %v", s.Name, err)
				return err
			}
			results[i] = "paused " + s.Name
			return nil
		})
	}

	err = g.Wait()
	for _, r := range results {
		if r != "" {
			cctx.Printf("%s\n", r)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

// pauseConcurrently resolves and pauses each name in parallel, printing
// results in a stable order once all have completed.
func (c *PauseCommand) pauseConcurrently(ctx context.Context, cctx *Context, names []string) int {
	g, gctx := errgroup.WithContext(ctx)
	results := make([]string, len(names))
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			meta, err := cctx.resolve(gctx, name)
			if err != nil {
				results[i] = fmt.Sprintf("%s: %v", name, err)
				return err
			}
			if err := cctx.Provider.Pause(gctx, meta.ContainerID); err != nil {
				results[i] = fmt.Sprintf("%s: %v", meta.Name, err)
				return err
			}
			results[i] = "paused " + meta.Name
			return nil
		})
	}

	err := g.Wait()
	for _, r := range results {
		if r != "" {
			cctx.Printf("%s\n", r)
		}
	}
	if err != nil {
		return 1
	}
	return 0
}
