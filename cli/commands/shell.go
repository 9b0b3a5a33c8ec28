package commands

import (
	"context"
	"fmt"
)

// ShellCommand implements `litterbox shell <name> -- <cmd...>`: execs
// cmd in the sandbox's /src and propagates its exit code (truncated to a
// u8; anything too large collapses to 1).
type ShellCommand struct{}

func (c *ShellCommand) Synopsis() string { return "Run a command in a sandbox" }

func (c *ShellCommand) Help() string {
	return "Usage: litterbox shell <name> -- <cmd...>"
}

func (c *ShellCommand) Run(args []string) int {
	if len(args) < 2 || args[1] != "--" {
		fmt.Println(c.Help())
		return 1
	}

	name := args[0]
	argv := args[2:]
	if len(argv) == 0 {
		fmt.Println(c.Help())
		return 1
	}

	cctx, err := NewContext(false)
	if err != nil {
		fmt.Println(err)
		return 1
	}

	ctx := context.Background()

	meta, err := cctx.resolve(ctx, name)
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	result, err := cctx.Provider.Shell(ctx, meta, argv)
	if err != nil {
		fmt.Fprintln(cctx.Stderr, err)
		return 1
	}

	fmt.Fprint(cctx.Stdout, result.Stdout)
	fmt.Fprint(cctx.Stderr, result.Stderr)

	if snapErr := cctx.Provider.Snapshot(ctx, meta, "shell: "+argv[0]); snapErr != nil {
		cctx.Log.Warn("snapshot after shell failed", "sandbox", meta.Name, "err", snapErr)
	}

	return exitCodeU8(result.ExitCode)
}

// exitCodeU8 truncates an exec exit code to what a POSIX process can
// actually report (0-255); an out-of-range value (the compute engine's
// saturating "still running" sentinel included) collapses to 1 rather than
// wrapping.
func exitCodeU8(code int64) int {
	if code < 0 || code > 255 {
		return 1
	}
	return int(code)
}
