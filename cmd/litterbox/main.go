// Command litterbox is the CLI entrypoint: list, stdio, pause,
// resume, delete, shell.
package main

import (
	"fmt"
	"os"

	"github.com/mitchellh/cli"

	"github.com/throwparty/litterbox/cli/commands"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	c := cli.NewCLI("litterbox", "0.1.0")
	c.Args = args
	c.Commands = commands.AllCommands()

	status, err := c.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	return status
}
