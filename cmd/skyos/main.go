// cmd/skyos is the command-line interface to the SKYOS kernel core and its
// disk-image tooling.
package main

import (
	"context"
	"os"

	"github.com/skyos/kernel/internal/cli"
	"github.com/skyos/kernel/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Boot(),
	cmd.MkDisk(),
	cmd.Fsck(),
}

// Entry point.
func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
