package main

import (
	"encoding/json"
	"fmt"
	"io"

	"creditledger/internal/app"
	"creditledger/internal/config"
	"creditledger/internal/logging"

	"github.com/spf13/cobra"
)

// cli holds the lazily opened application so --help never touches the
// database.
type cli struct {
	app    *app.App
	asJSON bool
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:           "creditctl",
		Short:         "Operate the credit ledger",
		Long:          "creditctl runs the scheduled credit reset, inspects and adjusts balances, verifies ledger integrity and replays payment webhooks.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["offline"] == "true" {
				return nil
			}
			return c.open(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	rootCmd.PersistentFlags().BoolVar(&c.asJSON, "json", false, "Render JSON output")

	rootCmd.AddCommand(
		newResetCmd(c),
		newBalanceCmd(c),
		newGrantCmd(c),
		newHistoryCmd(c),
		newTrailCmd(c),
		newVerifyCmd(c),
		newWebhooksCmd(c),
		newAdminCmd(c),
		newPlansCmd(c),
	)
	return rootCmd
}

func (c *cli) open(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	c.app, err = app.Open(cmd.Context(), cfg, log, false)
	return err
}

func (c *cli) print(w io.Writer, value any, text func(io.Writer)) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(value)
	}
	text(w)
	return nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
