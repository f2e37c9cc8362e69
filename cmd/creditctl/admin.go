package main

import (
	"encoding/json"
	"io"
	"time"

	"creditledger/internal/validator"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

func newAdminCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin users",
	}
	cmd.AddCommand(newAdminCreateCmd(c))
	return cmd
}

// newAdminCreateCmd bootstraps admins. The first admin is always a super admin.
func newAdminCreateCmd(c *cli) *cobra.Command {
	var super bool
	var email string
	cmd := &cobra.Command{
		Use:   "create <user-id>",
		Short: "Create or promote an admin user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			userID := args[0]
			if err := validator.ValidateUserID(userID); err != nil {
				return err
			}
			now := time.Now().UTC()
			exists, err := c.app.Users.Exists(ctx, userID)
			if err != nil {
				return err
			}
			if !exists {
				if err := validator.ValidateEmail(email); err != nil {
					return err
				}
				if err := c.app.Users.Create(ctx, userID, email, now); err != nil {
					return err
				}
			}
			hasAdmin, err := c.app.Admins.HasAnyAdmin(ctx)
			if err != nil {
				return err
			}
			if !hasAdmin {
				super = true
			}
			if err := c.app.Admins.CreateAdmin(ctx, userID, super, now); err != nil {
				return err
			}
			data, _ := json.Marshal(map[string]any{"target_user_id": userID, "super": super})
			err = c.app.TxRunner.WithTx(ctx, func(tx *sqlx.Tx) error {
				return c.app.Audit.Log(ctx, tx, "creditctl", "promote_admin", "admin", userID, string(data), now)
			})
			if err != nil {
				return err
			}
			result := map[string]any{"user_id": userID, "super": super}
			return c.print(cmd.OutOrStdout(), result, func(w io.Writer) {
				printf(w, "admin %s created (super=%t)\n", userID, super)
			})
		},
	}
	cmd.Flags().BoolVar(&super, "super", false, "Grant super admin rights")
	cmd.Flags().StringVar(&email, "email", "", "Email for a user that does not exist yet")
	return cmd
}
