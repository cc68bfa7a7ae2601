// Command tempo compiles process definitions and drives scenarios against
// them on a virtual clock.
package main

import (
	"os"

	"github.com/roach88/tempo/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
