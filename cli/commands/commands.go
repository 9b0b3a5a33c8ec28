package commands

import "github.com/mitchellh/cli"

// AllCommands returns the CLI's subcommand registry: list, stdio,
// pause, resume, delete, shell.
func AllCommands() map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"list": func() (cli.Command, error) {
			return &ListCommand{}, nil
		},
		"stdio": func() (cli.Command, error) {
			return &StdioCommand{}, nil
		},
		"pause": func() (cli.Command, error) {
			return &PauseCommand{}, nil
		},
		"resume": func() (cli.Command, error) {
			return &ResumeCommand{}, nil
		},
		"delete": func() (cli.Command, error) {
			return &DeleteCommand{}, nil
		},
		"shell": func() (cli.Command, error) {
			return &ShellCommand{}, nil
		},
	}
}
