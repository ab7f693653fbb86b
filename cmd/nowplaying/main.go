// Package main is the entry point for the nowplaying widget backend.
package main

import (
	"os"

	"github.com/np-widget/backend/cmd/nowplaying/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
