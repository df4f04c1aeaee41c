package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var antigamingCmd = &cobra.Command{
	Use:   "antigaming",
	Short: "Anti-gaming scan over recent signals",
}

var antigamingScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Summarize anti-gaming flags across recent trust gradients",
	Long: `Scan recent trust gradients and summarize replay, cross-agent replay,
and alias-collusion flags. With --fail-threshold set, exits with status 2
when the suspicious count reaches the threshold, for use in CI or cron
health checks.`,
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		failThreshold, _ := cmd.Flags().GetInt("fail-threshold")
		if limit < 50 {
			limit = 50
		}

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		report, err := svc.AntiGamingReport(context.Background(), limit)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		fmt.Printf("Scanned %d gradients, %d suspicious\n",
			report.Summary.Scanned, report.Summary.SuspiciousCount)
		for flag, count := range report.Summary.FlagCounts {
			fmt.Printf("  %-32s %d\n", flag, count)
		}
		for _, item := range report.Items {
			fmt.Printf("%s %-30s %-20s %.4f  %s\n", red("!"), item.EventID,
				item.AgentAddress, item.TrustScore, strings.Join(item.Flags, ","))
		}
		if report.Summary.SuspiciousCount == 0 {
			fmt.Printf("%s No gaming patterns detected\n", green("✓"))
		}

		if failThreshold > 0 && report.Summary.SuspiciousCount >= failThreshold {
			fmt.Fprintf(os.Stderr, "suspicious count %d reached threshold %d\n",
				report.Summary.SuspiciousCount, failThreshold)
			cleanup()
			os.Exit(2)
		}
	},
}

func init() {
	antigamingScanCmd.Flags().Int("limit", 200, "gradients to scan (minimum 50)")
	antigamingScanCmd.Flags().Int("fail-threshold", 0, "exit 2 when suspicious count reaches this (0 disables)")
	antigamingCmd.AddCommand(antigamingScanCmd)
	rootCmd.AddCommand(antigamingCmd)
}
