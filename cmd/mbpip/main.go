// Command line entry point: offline evaluation and coefficient tooling.
package main

import (
	"os"

	"github.com/turtacn/mbnrg-pip/internal/interfaces/cli"
)

// Set by -ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute already printed the error.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
