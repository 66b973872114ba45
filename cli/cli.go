// Package cli is the command front-end for mrpcd.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/cli"

	"miren.dev/mrpc/cli/commands"
	"miren.dev/mrpc/version"
)

func Run(args []string) int {
	c := cli.NewCLI("mrpcd", version.Version)
	c.Commands = commands.AllCommands()
	c.Args = args[1:]

	exitStatus, err := c.Run()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Printf("ERROR: %s\n", err)
			return 1
		}
	}

	return exitStatus
}
