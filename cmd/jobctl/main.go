package main

import (
	"fmt"
	"os"

	"github.com/mtr002/tenant-jobs/internal/cli"
	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init("jobctl", cfg.LogLevel)

	if err := cli.NewRootCmd(cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
