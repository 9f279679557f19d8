package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := ctx.client().Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Loadout Daemon", colorize) {
				fmt.Fprintln(out, line)
			}

			runningKind := statusError
			if status.Running {
				runningKind = statusOK
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, fmt.Sprintf("pid %d", status.PID), colorize))

			onlineKind, onlineMsg := connectivityStatus(status.Online)
			fmt.Fprintln(out, renderStatusLine("Connectivity", onlineKind, onlineMsg, colorize))

			fmt.Fprintln(out, renderStatusLine("Queue", queueStatus(status.QueuePending),
				fmt.Sprintf("%d pending of %d capacity", status.QueuePending, status.QueueCapacity), colorize))

			if status.QueueDead > 0 {
				fmt.Fprintln(out, renderStatusLine("Dead letters", statusWarn,
					fmt.Sprintf("%d entries need attention", status.QueueDead), colorize))
			}

			fmt.Fprintln(out, renderStatusLine("Queue DB", statusInfo, status.QueueDBPath, colorize))
			fmt.Fprintln(out, renderStatusLine("Lock file", statusInfo, status.LockFilePath, colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output status as JSON")
	return cmd
}
