// Command juicebox runs the ephemeral file-sharing service and its
// operator CLI.
package main

import (
	"fmt"
	"os"

	"github.com/marmos91/juicebox/cmd/juicebox/commands"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.Date = date

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
