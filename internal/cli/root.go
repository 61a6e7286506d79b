// Package cli implements jobctl, the operator tool for inspecting jobs,
// dead-lettered step messages and worker health.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/tenant-jobs/internal/config"
)

const defaultTimeout = 10 * time.Second

// NewRootCmd builds the jobctl command tree. Connections are opened by each
// subcommand, so health works without Redis or NATS.
func NewRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jobctl",
		Short:         "Inspect tenant jobs",
		Long:          `jobctl reads job records, lists dead-lettered step messages and probes worker health.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(JobCmd(cfg))
	rootCmd.AddCommand(DlqCmd(cfg))
	rootCmd.AddCommand(HealthCmd(cfg))
	return rootCmd
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, defaultTimeout)
}
