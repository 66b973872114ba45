package commands

import (
	"github.com/mitchellh/cli"
)

func AllCommands() map[string]cli.CommandFactory {
	return map[string]cli.CommandFactory{
		"serve": func() (cli.Command, error) {
			return &ServeCommand{}, nil
		},

		"call": func() (cli.Command, error) {
			return &CallCommand{}, nil
		},

		"version": func() (cli.Command, error) {
			return &VersionCommand{}, nil
		},
	}
}
