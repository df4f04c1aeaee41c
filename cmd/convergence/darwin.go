package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var darwinCmd = &cobra.Command{
	Use:   "darwin",
	Short: "Run a policy tuning cycle",
	Long: `Run one darwin cycle: propose a candidate policy from outcome history,
evaluate it against the baseline, and accept it only if it improves the
objective. Without --apply this is a dry run that never mutates the active
policy. With --run-validation, the configured validation commands must all
succeed before a candidate can be accepted.`,
	Run: func(cmd *cobra.Command, args []string) {
		reviewer, _ := cmd.Flags().GetString("reviewer")
		reason, _ := cmd.Flags().GetString("reason")
		apply, _ := cmd.Flags().GetBool("apply")
		runValidation, _ := cmd.Flags().GetBool("run-validation")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		run, err := svc.RunDarwinCycle(context.Background(), reviewer, reason, !apply, runValidation)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()

		fmt.Printf("Run %s: %s\n", run.RunID, run.Status)
		if run.Status == "insufficient_data" {
			fmt.Printf("%s %s\n", yellow("⚠"), run.Notes)
			return
		}
		fmt.Printf("  baseline objective:  %.4f\n", run.BaselineObjective)
		fmt.Printf("  candidate objective: %.4f\n", run.CandidateObjective)
		fmt.Printf("  false positive rate: %.4f\n", run.FalsePositiveRate)
		fmt.Printf("  validation: %s\n", run.ValidationResult)
		if run.Accepted {
			if run.DryRun {
				fmt.Printf("%s Candidate accepted (dry run, policy unchanged)\n", green("✓"))
			} else {
				fmt.Printf("%s Candidate accepted and applied\n", green("✓"))
			}
		} else {
			fmt.Printf("%s Candidate rejected\n", yellow("✗"))
		}
	},
}

var darwinLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent darwin runs",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		runs, err := svc.ListDarwinRuns(context.Background(), limit)
		if err != nil {
			fatal(err)
		}
		for _, run := range runs {
			accepted := " "
			if run.Accepted {
				accepted = "✓"
			}
			fmt.Printf("%s %s %-18s base %.4f cand %.4f  %s\n", accepted,
				run.CreatedAt.Format("2006-01-02 15:04"), run.Status,
				run.BaselineObjective, run.CandidateObjective, run.RunID)
		}
	},
}

func init() {
	darwinCmd.Flags().String("reviewer", "", "who triggered the cycle (required)")
	darwinCmd.Flags().String("reason", "", "why the cycle was run")
	darwinCmd.Flags().Bool("apply", false, "apply an accepted candidate (default is dry run)")
	darwinCmd.Flags().Bool("run-validation", false, "run configured validation commands before accepting")
	darwinLogCmd.Flags().Int("limit", 20, "runs to show")

	darwinCmd.AddCommand(darwinLogCmd)
	rootCmd.AddCommand(darwinCmd)
}
