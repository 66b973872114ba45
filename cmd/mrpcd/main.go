package main

import (
	"os"

	"miren.dev/mrpc/cli"
)

func main() {
	os.Exit(cli.Run(os.Args))
}
