package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"go.uber.org/automaxprocs/maxprocs"

	"imagededup/cmd"
	"imagededup/logging"
)

func main() {
	// Respect container CPU quotas before any worker pool is sized
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		logging.DebugLog(fmt.Sprintf(format, args...))
	}))
	defer undo()
	if err != nil {
		logging.LogWarning("failed to set GOMAXPROCS", "error", err)
	}

	if err := cmd.Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
