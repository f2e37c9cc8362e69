package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"creditledger/internal/services"

	"github.com/spf13/cobra"
)

var (
	errResetFailures = errors.New("some accounts failed to reset")
	errLedgerDrift   = errors.New("ledger drift detected")
)

func newResetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Run the scheduled monthly credit reset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			summary, err := c.app.Reset.Run(cmd.Context())
			if err != nil {
				return err
			}
			err = c.print(cmd.OutOrStdout(), summary, func(w io.Writer) {
				printf(w, "processed=%d succeeded=%d skipped=%d failed=%d\n",
					summary.Processed, summary.Succeeded, summary.Skipped, summary.Failed)
				for _, f := range summary.Failures {
					printf(w, "  %s: %s\n", f.UserID, f.Error)
				}
			})
			if err != nil {
				return err
			}
			if summary.Failed > 0 {
				return fmt.Errorf("%w: %d", errResetFailures, summary.Failed)
			}
			return nil
		},
	}
}

func newBalanceCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <user-id>",
		Short: "Show a user's credit account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, ok, err := c.app.Ledger.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", services.ErrAccountNotInitialized, args[0])
			}
			ledgerSum, err := c.app.Transactions.SumByUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), account, func(w io.Writer) {
				printf(w, "user:       %s\n", account.UserID)
				printf(w, "balance:    %d\n", account.Balance)
				printf(w, "allocation: %d\n", account.MonthlyAllocation)
				printf(w, "purchased:  %d\n", account.PurchasedCredits)
				printf(w, "earned:     %d\n", account.TotalEarned)
				printf(w, "spent:      %d\n", account.TotalSpent)
				printf(w, "ledger sum: %d\n", ledgerSum)
				if account.LastResetDate != nil {
					printf(w, "last reset: %s\n", account.LastResetDate.Format("2006-01-02 15:04:05"))
				}
			})
		},
	}
}

func newGrantCmd(c *cli) *cobra.Command {
	var kind, reason, actor string
	cmd := &cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Grant bonus or refund credits",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: %q", services.ErrInvalidAmount, args[1])
			}
			var result services.OperationResult
			switch kind {
			case "bonus":
				result, err = c.app.Ledger.AddBonusCredits(cmd.Context(), args[0], amount, reason, actor)
			case "refund":
				result, err = c.app.Ledger.RefundCredits(cmd.Context(), args[0], amount, reason)
			default:
				return fmt.Errorf("%w: %q", services.ErrInvalidTransactionType, kind)
			}
			if err != nil {
				return err
			}
			if !result.Success {
				return errors.New(result.Error)
			}
			return c.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				printf(w, "granted %d %s credits to %s, balance %d\n", amount, kind, args[0], result.NewBalance)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "type", "bonus", "Grant type: bonus or refund")
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded on the transaction")
	cmd.Flags().StringVar(&actor, "actor", "creditctl", "Actor recorded in the audit log")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func newHistoryCmd(c *cli) *cobra.Command {
	var page, limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "List a user's transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := c.app.Ledger.GetTransactionHistory(cmd.Context(), args[0], page, limit)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				printf(tw, "CREATED\tTYPE\tAMOUNT\tBALANCE\tREASON\n")
				for _, tx := range result.Transactions {
					printf(tw, "%s\t%s\t%d\t%d\t%s\n",
						tx.CreatedAt.Format("2006-01-02 15:04"), tx.Type, tx.Amount, tx.BalanceAfter, tx.Reason)
				}
				_ = tw.Flush()
				printf(w, "page %d, %d of %d transactions\n", result.Page, len(result.Transactions), result.Total)
			})
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&limit, "limit", 20, "Page size")
	return cmd
}

// newTrailCmd replays every row oldest first and flags any row whose stored
// balance_after disagrees with the running total.
func newTrailCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "trail <user-id>",
		Short: "Replay a user's full ledger and check every running balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := c.app.Transactions.ListAllByUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var running int64
			mismatches := 0
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "CREATED\tTYPE\tAMOUNT\tSTORED\tREPLAYED\t\n")
			for _, row := range rows {
				running += row.Amount
				flag := ""
				if running != row.BalanceAfter {
					flag = "MISMATCH"
					mismatches++
				}
				printf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
					row.CreatedAt.Format("2006-01-02 15:04"), row.Type, row.Amount, row.BalanceAfter, running, flag)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if mismatches > 0 {
				return fmt.Errorf("%w: %d rows", errLedgerDrift, mismatches)
			}
			return nil
		},
	}
}

func newVerifyCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [user-id]",
		Short: "Compare stored balances with the sum of their transactions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := ""
			if len(args) == 1 {
				userID = args[0]
			}
			checks, err := c.app.Ledger.VerifyLedger(cmd.Context(), userID)
			if err != nil {
				return err
			}
			drifted := 0
			for _, check := range checks {
				if check.Difference != 0 {
					drifted++
				}
			}
			err = c.print(cmd.OutOrStdout(), checks, func(w io.Writer) {
				for _, check := range checks {
					if check.Difference != 0 {
						printf(w, "%s stored=%d calculated=%d difference=%d\n",
							check.UserID, check.StoredBalance, check.CalculatedBalance, check.Difference)
					}
				}
				printf(w, "%d accounts checked, %d drifted\n", len(checks), drifted)
			})
			if err != nil {
				return err
			}
			if drifted > 0 {
				return fmt.Errorf("%w: %d accounts", errLedgerDrift, drifted)
			}
			return nil
		},
	}
}
