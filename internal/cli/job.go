package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/redisstore"
)

func JobCmd(cfg *config.Config) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect job records",
	}

	var raw bool
	getCmd := &cobra.Command{
		Use:   "get <kind> <job-id>",
		Short: "Print a job's status, or its full record with --raw",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := jobs.ParseKind(args[0])
			if err != nil {
				return err
			}
			settings, err := cfg.JobSettings()
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			records, err := redisstore.Connect(ctx, redisstore.Config{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			if err != nil {
				return err
			}
			defer records.Close()

			rec, err := jobs.NewStore(records, settings).Load(ctx, kind, args[1])
			if err != nil {
				return fmt.Errorf("job %s: %w", args[1], err)
			}

			var v any = jobs.NewStatus(rec)
			if raw {
				v = rec
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	getCmd.Flags().BoolVar(&raw, "raw", false, "print the stored record including step bookkeeping")

	jobCmd.AddCommand(getCmd)
	return jobCmd
}
