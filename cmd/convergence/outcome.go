package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sab-lab/convergence/internal/types"
)

var outcomeCmd = &cobra.Command{
	Use:   "outcome",
	Short: "Record verified outcomes against ingested signals",
}

var outcomeRecordCmd = &cobra.Command{
	Use:   "record <event-id>",
	Short: "Record a verified outcome against an ingested signal",
	Long: `Record an independently verified pass/fail result for a prior signal.
The signal's trust score is recomputed from the full outcome history under
the active policy.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eventID := args[0]
		outcomeType, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")
		recordedBy, _ := cmd.Flags().GetString("recorded-by")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		gradient, err := svc.RecordOutcome(context.Background(), &types.OutcomeRequest{
			EventID:    eventID,
			RecordedBy: recordedBy,
			Type:       types.OutcomeType(outcomeType),
			Status:     types.OutcomeStatus(status),
		})
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Outcome recorded for %s\n", green("✓"), eventID)
		fmt.Printf("  trust_score: %.4f (adjustment %+.4f)\n", gradient.TrustScore, gradient.TrustAdjustment)
		d := gradient.Diagnostic.Decomposition
		fmt.Printf("  decomposition: anti %+.4f, outcome %+.4f, manual %+.4f\n",
			d.AntiGaming, d.Outcome, d.Manual)
	},
}

var adjustCmd = &cobra.Command{
	Use:   "adjust <event-id>",
	Short: "Set a target total trust adjustment for an event",
	Long: `Administrative override of an event's total trust adjustment. The
anti-gaming and outcome components are recomputed from stored history and
preserved; only the manual residual changes.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target, _ := cmd.Flags().GetFloat64("target")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		gradient, err := svc.SetTrustAdjustment(context.Background(), args[0], target, reviewer, reason)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Adjustment set for %s by %s\n", green("✓"), args[0], reviewer)
		fmt.Printf("  trust_score: %.4f (total %+.4f, manual %+.4f)\n",
			gradient.TrustScore, gradient.TrustAdjustment, gradient.Diagnostic.Decomposition.Manual)
	},
}

var clawbackCmd = &cobra.Command{
	Use:   "clawback <event-id>",
	Short: "Apply a trust penalty on top of an event's current adjustment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		penalty, _ := cmd.Flags().GetFloat64("penalty")
		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		gradient, err := svc.ApplyClawback(context.Background(), args[0], penalty, reviewer, reason)
		if err != nil {
			fatal(err)
		}

		yellow := color.New(color.FgYellow).SprintFunc()
		fmt.Printf("%s Clawback of %.4f applied to %s\n", yellow("⚠"), penalty, args[0])
		fmt.Printf("  trust_score: %.4f\n", gradient.TrustScore)
	},
}

func init() {
	outcomeRecordCmd.Flags().String("type", "tests", "outcome type: tests, smoke, human_acceptance, user_feedback")
	outcomeRecordCmd.Flags().String("status", "", "outcome status: pass or fail")
	outcomeRecordCmd.Flags().String("recorded-by", "", "who verified the outcome")
	outcomeCmd.AddCommand(outcomeRecordCmd)

	adjustCmd.Flags().Float64("target", 0, "target total adjustment")
	adjustCmd.Flags().String("reviewer", "", "reviewer identity (required)")
	adjustCmd.Flags().String("reason", "", "reason for the override (required)")

	clawbackCmd.Flags().Float64("penalty", 0, "positive penalty to subtract")
	clawbackCmd.Flags().String("reviewer", "", "reviewer identity (required)")
	clawbackCmd.Flags().String("reason", "", "reason for the clawback (required)")

	rootCmd.AddCommand(outcomeCmd)
	rootCmd.AddCommand(adjustCmd)
	rootCmd.AddCommand(clawbackCmd)
}
