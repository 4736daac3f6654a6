// Package main provides the entry point for the confrag CLI.
package main

import (
	"os"

	"github.com/confrag/confrag/cmd/confrag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
