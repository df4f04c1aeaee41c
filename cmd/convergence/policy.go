package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect and update the scoring policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active scoring policy",
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		current, err := svc.GetPolicy(context.Background())
		if err != nil {
			fatal(err)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(current); err != nil {
			fatal(err)
		}
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Append a new policy version",
	Long: `Append a new policy version. Flags not supplied keep the current
value. Every numeric field is bounded to [-0.60, 0.60]; the update is
rejected wholesale if any bound is violated.`,
	Run: func(cmd *cobra.Command, args []string) {
		updatedBy, _ := cmd.Flags().GetString("updated-by")
		reason, _ := cmd.Flags().GetString("reason")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()
		ctx := context.Background()

		next, err := svc.GetPolicy(ctx)
		if err != nil {
			fatal(err)
		}

		setFloat := func(name string, target *float64) {
			if cmd.Flags().Changed(name) {
				*target, _ = cmd.Flags().GetFloat64(name)
			}
		}
		setFloat("replay-penalty", &next.ReplayPenalty)
		setFloat("cross-agent-replay-penalty", &next.CrossAgentReplayPenalty)
		setFloat("collusion-penalty", &next.CollusionPenalty)
		setFloat("outcome-pass-bonus", &next.OutcomePassBonus)
		setFloat("outcome-fail-penalty", &next.OutcomeFailPenalty)
		setFloat("human-acceptance-bonus", &next.HumanAcceptanceBonus)
		setFloat("max-adjustment-abs", &next.MaxAdjustmentAbs)

		stored, err := svc.UpdatePolicy(ctx, next, updatedBy, reason)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Policy version %d active\n", green("✓"), stored.Version)
	},
}

func init() {
	policySetCmd.Flags().Float64("replay-penalty", 0, "penalty for replay_laundering_risk")
	policySetCmd.Flags().Float64("cross-agent-replay-penalty", 0, "penalty for cross_agent_replay_risk")
	policySetCmd.Flags().Float64("collusion-penalty", 0, "penalty for source_alias_collusion_risk")
	policySetCmd.Flags().Float64("outcome-pass-bonus", 0, "bonus per passing outcome")
	policySetCmd.Flags().Float64("outcome-fail-penalty", 0, "penalty per failing outcome")
	policySetCmd.Flags().Float64("human-acceptance-bonus", 0, "extra bonus for passing human acceptance")
	policySetCmd.Flags().Float64("max-adjustment-abs", 0, "per-component adjustment ceiling")
	policySetCmd.Flags().String("updated-by", "", "operator identity (required)")
	policySetCmd.Flags().String("reason", "", "reason for the change")

	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	rootCmd.AddCommand(policyCmd)
}
