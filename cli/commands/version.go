package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"miren.dev/mrpc/version"
)

type VersionCommand struct{}

func (c *VersionCommand) Synopsis() string {
	return "Print version information"
}

func (c *VersionCommand) Help() string {
	return strings.TrimSpace(`
Usage: mrpcd version [options]

Options:
  --json    Print version info as JSON
`)
}

func (c *VersionCommand) Run(args []string) int {
	fs := pflag.NewFlagSet("version", pflag.ContinueOnError)

	asJSON := fs.Bool("json", false, "print as JSON")

	err := fs.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	info := version.GetInfo()

	if *asJSON {
		out, err := info.JSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}

		fmt.Println(out)
		return 0
	}

	fmt.Println(info.String())

	return 0
}
