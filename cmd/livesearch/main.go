// Package main is the entry point for the livesearch CLI.
package main

import (
	"os"

	"github.com/runger/livesearch/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
