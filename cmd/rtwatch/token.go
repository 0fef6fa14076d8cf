package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/77mdias/barbershop-hub/auth"
)

func newTokenCmd(a *app) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a development session token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, err := a.cfg.Secret()
			if err != nil {
				return err
			}
			token, err := auth.NewIssuer(secret, a.cfg.TokenTTL).Issue(userID)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
