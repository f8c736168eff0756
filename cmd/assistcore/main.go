// Package main provides the entry point for the assistcore CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/assistcore/cmd/assistcore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
