package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSessionCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "session <id>",
		Short: "Show one verification session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := ctx.client().Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, summary)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Session "+summary.ID, colorize) {
				fmt.Fprintln(out, line)
			}

			statusKindFor := statusInfo
			switch summary.Status {
			case "completed":
				statusKindFor = statusOK
			case "abandoned":
				statusKindFor = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Status", statusKindFor, summary.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Tenant", statusInfo, summary.TenantID, colorize))
			fmt.Fprintln(out, renderStatusLine("Job", statusInfo, summary.JobID, colorize))
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, summary.StartedAt.Local().Format(time.RFC3339), colorize))
			fmt.Fprintln(out, renderStatusLine("Last active", statusInfo, summary.LastActiveAt.Local().Format(time.RFC3339), colorize))
			fmt.Fprintln(out, renderStatusLine("Frames", statusInfo, fmt.Sprintf("%d processed", summary.FramesProcessed), colorize))

			verified := "none"
			if len(summary.VerifiedItems) > 0 {
				verified = strings.Join(summary.VerifiedItems, ", ")
			}
			fmt.Fprintln(out, renderStatusLine("Verified items", statusInfo, verified, colorize))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output session as JSON")
	return cmd
}
