// Package main is the entry point for modjobctl, the operator console for a
// running modjob server.
package main

import (
	"os"

	"github.com/aescanero/modjob/cmd/modjobctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
