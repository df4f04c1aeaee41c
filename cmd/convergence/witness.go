package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sab-lab/convergence/internal/types"
)

var witnessCmd = &cobra.Command{
	Use:   "witness",
	Short: "Inspect and verify the witness chain",
}

var witnessListCmd = &cobra.Command{
	Use:   "list",
	Short: "List witness records, most recent first",
	Run: func(cmd *cobra.Command, args []string) {
		subject, _ := cmd.Flags().GetString("subject")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		records, err := svc.WitnessList(context.Background(), subject, limit, offset)
		if err != nil {
			fatal(err)
		}
		for _, record := range records {
			fmt.Printf("%6d  %-28s %-24s %-20s %s\n", record.ID, record.Timestamp,
				record.Action, record.Actor, record.Subject)
		}
	},
}

var witnessVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the full witness chain",
	Long: `Replay the entire chain oldest-first, checking every record's linkage
and recomputing every hash. Corruption is reported with the first bad
record; nothing is repaired.`,
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		count, err := svc.WitnessVerify(context.Background())
		if err != nil {
			red := color.New(color.FgRed).SprintFunc()
			var cie *types.ChainIntegrityError
			if errors.As(err, &cie) {
				fmt.Printf("%s Chain integrity violation at record %d: %s\n",
					red("✗"), cie.RecordID, cie.Reason)
				cleanup()
				os.Exit(2)
			}
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Chain verified: %d records\n", green("✓"), count)
	},
}

func init() {
	witnessListCmd.Flags().String("subject", "", "filter by subject")
	witnessListCmd.Flags().Int("limit", 50, "records to show")
	witnessListCmd.Flags().Int("offset", 0, "records to skip")

	witnessCmd.AddCommand(witnessListCmd)
	witnessCmd.AddCommand(witnessVerifyCmd)
	rootCmd.AddCommand(witnessCmd)
}
