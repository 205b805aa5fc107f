// Command adminsync runs the admin data sync engine, its dev backend and the
// scenario harness.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/adminsync/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "adminsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
