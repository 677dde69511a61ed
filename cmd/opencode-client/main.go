// Package main provides the entry point for the opencode client CLI.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/opencode-client/cmd/opencode-client/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
