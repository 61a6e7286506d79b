package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/grpc"
)

func HealthCmd(cfg *config.Config) *cobra.Command {
	var addr string
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the worker reports SERVING",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()

			client, err := grpc.NewClient(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Check(ctx); err != nil {
				return fmt.Errorf("worker at %s is unhealthy: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "worker at %s is serving\n", addr)
			return nil
		},
	}
	healthCmd.Flags().StringVar(&addr, "addr", cfg.WorkerGRPCAddr, "worker gRPC address")
	return healthCmd
}
