// Package main provides the entry point for the bmad-assist CLI.
package main

import (
	"os"

	"github.com/bmad-assist/bmad-assist/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
