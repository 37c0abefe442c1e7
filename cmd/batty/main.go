// Command batty is the supervised coding-agent execution runtime's CLI
// entry point. All subcommand logic lives in internal/cmd; main only wires
// Execute to the documented process exit codes.
package main

import (
	"fmt"
	"os"

	"github.com/battysh/batty/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "batty: %v\n", err)
		os.Exit(cmd.ExitCode(err))
	}
}
