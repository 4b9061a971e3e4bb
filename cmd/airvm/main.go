// Command airvm runs AIR scripts as a peer, inspects particle data and
// checks scenarios and execution logs.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/airvm/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
