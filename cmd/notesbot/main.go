// Package main is the entry point of the notesbot CLI.
package main

import (
	"fmt"
	"os"

	"github.com/jholhewres/notesbot/cmd/notesbot/commands"
)

// version is injected at build time via ldflags.
var version = "dev"

func main() {
	rootCmd := commands.NewRootCmd(version)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
