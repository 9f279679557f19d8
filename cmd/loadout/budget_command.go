package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newBudgetCommand(ctx *commandContext) *cobra.Command {
	var tenantID string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show a tenant's cloud spend for the current UTC day",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenantID == "" {
				return errors.New("--tenant is required")
			}
			stats, err := ctx.client().Budget(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, stats)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader(fmt.Sprintf("Budget %s (%s)", stats.TenantID, stats.Period), colorize) {
				fmt.Fprintln(out, line)
			}

			spendKind := statusOK
			if stats.RemainingCents <= 0 {
				spendKind = statusError
			} else if stats.CostCapCents > 0 && stats.CostCents*5 >= stats.CostCapCents*4 {
				spendKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Spend", spendKind,
				fmt.Sprintf("%s of %s", formatCents(stats.CostCents), formatCents(stats.CostCapCents)), colorize))
			fmt.Fprintln(out, renderStatusLine("Remaining", statusInfo, formatCents(stats.RemainingCents), colorize))

			callKind := statusOK
			if stats.RequestCap > 0 && stats.CallCount >= stats.RequestCap {
				callKind = statusError
			}
			fmt.Fprintln(out, renderStatusLine("Cloud calls", callKind,
				fmt.Sprintf("%d of %d", stats.CallCount, stats.RequestCap), colorize))
			return nil
		},
	}

	cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant identifier")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output budget as JSON")
	return cmd
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
