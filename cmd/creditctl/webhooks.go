package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"creditledger/internal/models"

	"github.com/spf13/cobra"
)

func newWebhooksCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Inspect and replay payment webhook events",
	}
	cmd.AddCommand(newWebhooksListCmd(c), newWebhooksReplayCmd(c))
	return cmd
}

func newWebhooksListCmd(c *cli) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded events by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			events, err := c.app.Events.ListByStatus(cmd.Context(), models.WebhookEventStatus(status), limit, 0)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), events, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				printf(tw, "EVENT\tTYPE\tSTATUS\tRECEIVED\tERROR\n")
				for _, e := range events {
					printf(tw, "%s\t%s\t%s\t%s\t%s\n",
						e.EventID, e.EventType, e.Status, e.CreatedAt.Format("2006-01-02 15:04"), e.Error)
				}
				_ = tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", string(models.WebhookFailed), "Event status: received, processed, dropped or failed")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum events to list")
	return cmd
}

func newWebhooksReplayCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <event-id>...",
		Short: "Reprocess dropped or failed events from their stored payload",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				outcome, err := c.app.Reconciler.Replay(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("replay %s: %w", id, err)
				}
				err = c.print(cmd.OutOrStdout(), outcome, func(w io.Writer) {
					printf(w, "%s %s %s %s\n", outcome.EventID, outcome.Category, outcome.Status, outcome.Message)
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}
