package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sab-lab/convergence/internal/types"
)

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "Ingest and inspect DGC behavioral signals",
}

var signalIngestCmd = &cobra.Command{
	Use:   "ingest <agent-address> [payload-file]",
	Short: "Ingest one DGC signal from a JSON payload file or stdin",
	Long: `Ingest one behavioral-evidence event. The payload is a JSON object with
event_id, gate_scores, collapse_dimensions, mission_relevance, and related
fields. Resubmitting an identical event is a safe no-op; reusing an event_id
with different content is rejected.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		agentAddress := args[0]
		secret, _ := cmd.Flags().GetString("secret")

		var raw []byte
		var err error
		if len(args) == 2 && args[1] != "-" {
			raw, err = os.ReadFile(args[1])
		} else {
			raw, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			fatal(err)
		}

		var payload types.SignalPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			fatal(fmt.Errorf("failed to parse payload: %w", err))
		}

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		result, err := svc.IngestSignal(context.Background(), agentAddress, secret, &payload)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		if result.IdempotentReplay {
			fmt.Printf("%s Replay of %s (already processed)\n", yellow("↺"), result.Signal.EventID)
		} else {
			fmt.Printf("%s Ingested %s\n", green("✓"), result.Signal.EventID)
		}

		g := result.Gradient
		scoreMark := green("●")
		if g.LowTrustFlag {
			scoreMark = red("●")
		} else if g.TrustScore < 0.65 {
			scoreMark = yellow("●")
		}
		fmt.Printf("  %s trust_score: %.4f (base %.4f, adjustment %+.4f)\n",
			scoreMark, g.TrustScore, g.BaseTrustScore, g.TrustAdjustment)
		fmt.Printf("  causes: %s\n", strings.Join(g.LikelyCauses, ", "))
		if len(g.AntiGamingFlags) > 0 {
			fmt.Printf("  %s flags: %s\n", red("!"), strings.Join(g.AntiGamingFlags, ", "))
		}
		fmt.Printf("  action: %s\n", g.Diagnostic.SuggestedAction)
	},
}

var signalHistoryCmd = &cobra.Command{
	Use:   "history <agent-address>",
	Short: "Show an agent's trust history, most recent first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		history, err := svc.TrustHistory(context.Background(), args[0], limit)
		if err != nil {
			fatal(err)
		}
		if len(history) == 0 {
			fmt.Println("No scored signals for this agent.")
			return
		}

		red := color.New(color.FgRed).SprintFunc()
		for _, g := range history {
			flag := " "
			if g.LowTrustFlag {
				flag = red("!")
			}
			fmt.Printf("%s %-30s %.4f  %s\n", flag, g.SignalEventID, g.TrustScore,
				strings.Join(g.LikelyCauses, ","))
		}
	},
}

func init() {
	signalIngestCmd.Flags().String("secret", "", "shared ingestion secret")
	signalHistoryCmd.Flags().Int("limit", 20, "maximum rows to show")

	signalCmd.AddCommand(signalIngestCmd)
	signalCmd.AddCommand(signalHistoryCmd)
	rootCmd.AddCommand(signalCmd)
}
