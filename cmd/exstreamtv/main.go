// Package main is the entry point for the exstreamtv application.
package main

import (
	"os"

	"github.com/exstreamtv/exstreamtv/cmd/exstreamtv/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
