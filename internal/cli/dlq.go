package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mtr002/tenant-jobs/internal/config"
	"github.com/mtr002/tenant-jobs/internal/jobs"
	"github.com/mtr002/tenant-jobs/internal/nats"
)

func DlqCmd(cfg *config.Config) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect dead-lettered step messages",
	}

	var (
		kindName string
		limit    int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered step messages of one kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := jobs.ParseKind(kindName)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()

			client, err := nats.NewClient(cfg.NATSURL, "jobctl")
			if err != nil {
				return err
			}
			defer client.Close()

			channel, err := nats.NewChannel(client, nats.ChannelConfig{})
			if err != nil {
				return err
			}
			letters, err := channel.DeadLetters(ctx, kind.DeadLetterQueue(), limit)
			if err != nil {
				return err
			}
			return printDeadLetters(cmd.OutOrStdout(), kind, letters)
		},
	}
	listCmd.Flags().StringVar(&kindName, "kind", "", "job kind, e.g. user-search")
	listCmd.Flags().IntVar(&limit, "limit", 50, "maximum number of messages to list")
	listCmd.MarkFlagRequired("kind")

	dlqCmd.AddCommand(listCmd)
	return dlqCmd
}

func printDeadLetters(out io.Writer, kind jobs.Kind, letters []nats.DeadLetter) error {
	if len(letters) == 0 {
		fmt.Fprintf(out, "No dead-lettered messages for %s.\n", kind)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tJOB\tUSER\tSTEP\tMSG SEQ")
	for _, l := range letters {
		var msg jobs.StepMessage
		if err := json.Unmarshal(l.Data, &msg); err != nil {
			fmt.Fprintf(w, "%d\t%s\t<undecodable: %d bytes>\t\t\t\n", l.Sequence, l.Time.Format(time.RFC3339), len(l.Data))
			continue
		}
		step := string(msg.Step)
		if step == "" {
			step = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", l.Sequence, l.Time.Format(time.RFC3339), msg.JobID, msg.UserID, step, msg.Seq)
	}
	return w.Flush()
}
