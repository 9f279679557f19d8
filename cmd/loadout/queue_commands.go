package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var titleCaser = cases.Title(language.Und)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the offline submission queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(cmd, ctx, "")
		},
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueDeadCommand(ctx))
	queueCmd.AddCommand(newQueueSyncCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				resp, err := ctx.client().Queue(cmd.Context(), "")
				if err != nil {
					return err
				}
				return writeJSON(cmd, resp)
			}
			return runQueueList(cmd, ctx, "")
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output queue as JSON")
	return cmd
}

func newQueueDeadCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				resp, err := ctx.client().Queue(cmd.Context(), "dead")
				if err != nil {
					return err
				}
				return writeJSON(cmd, resp)
			}
			return runQueueList(cmd, ctx, "dead")
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output queue as JSON")
	return cmd
}

func newQueueSyncCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a sync pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().SyncQueue(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			if len(resp.Outcomes) == 0 {
				fmt.Fprintln(out, "Nothing to sync.")
				return nil
			}
			rows := make([][]string, 0, len(resp.Outcomes))
			for _, outcome := range resp.Outcomes {
				rows = append(rows, []string{
					strconv.FormatInt(outcome.EntryID, 10),
					titleCaser.String(strings.ReplaceAll(outcome.Status, "_", " ")),
					outcome.Error,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Outcome", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output outcomes as JSON")
	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Revive dead-lettered submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := ctx.client().RetryDead(cmd.Context())
			if err != nil {
				return err
			}
			if resp.Affected == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No dead-lettered entries.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revived %d entries for retry.\n", resp.Affected)
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every queued submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !force {
				return fmt.Errorf("clearing drops unsynced submissions permanently, re-run with --force to confirm")
			}
			resp, err := ctx.client().ClearQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries.\n", resp.Affected)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Confirm deletion of all queued submissions")
	return cmd
}

func runQueueList(cmd *cobra.Command, ctx *commandContext, state string) error {
	resp, err := ctx.client().Queue(cmd.Context(), state)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Queue: %d pending, %d dead, capacity %d\n", resp.Pending, resp.Dead, resp.Capacity)
	if len(resp.Entries) == 0 {
		fmt.Fprintln(out, "No entries.")
		return nil
	}

	rows := make([][]string, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		rows = append(rows, []string{
			strconv.FormatInt(entry.ID, 10),
			entry.TenantID,
			entry.JobID,
			entry.EnqueuedAt.Local().Format(time.RFC3339),
			strconv.Itoa(entry.RetryCount),
			titleCaser.String(entry.State),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"ID", "Tenant", "Job", "Enqueued", "Retries", "State"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	))
	return nil
}
