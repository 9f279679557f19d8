package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().TestNotification(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Sent: %s\n", yesNo(resp.Sent))
			if resp.Message != "" {
				fmt.Fprintln(out, resp.Message)
			}
			return nil
		},
	}
}
