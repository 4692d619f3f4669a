// Package main is the entry point for the kapimage service and CLI
package main

import (
	"fmt"
	"os"

	"github.com/kapnodes/kapimage/internal/cli"
	"github.com/kapnodes/kapimage/pkg/logger"
	"go.uber.org/zap"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, BuildDate)

	if err := cli.Execute(); err != nil {
		logger.Error("kapimage execution failed", zap.Error(err))
		_ = logger.Sync()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	_ = logger.Sync()
}
