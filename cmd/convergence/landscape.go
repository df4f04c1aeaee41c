package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var landscapeCmd = &cobra.Command{
	Use:   "landscape",
	Short: "Show the latest per-agent trust landscape",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		landscape, err := svc.Landscape(context.Background(), limit)
		if err != nil {
			fatal(err)
		}

		if asJSON {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(landscape); err != nil {
				fatal(err)
			}
			return
		}

		if len(landscape.Nodes) == 0 {
			fmt.Println("No scored agents yet.")
			return
		}

		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()

		fmt.Printf("Agents: %d  avg trust: %.4f  low trust: %d\n\n",
			landscape.Summary.AgentCount, landscape.Summary.AvgTrust, landscape.Summary.LowTrustCount)
		for _, node := range landscape.Nodes {
			mark := green("●")
			if node.LowTrustFlag {
				mark = red("●")
			} else if node.TrustScore < 0.65 {
				mark = yellow("●")
			}
			name := node.AgentAddress
			if node.Alias != "" {
				name = fmt.Sprintf("%s (%s)", node.Alias, node.AgentAddress)
			}
			fmt.Printf("%s %-40s %.4f  %s\n", mark, name, node.TrustScore,
				strings.Join(node.LikelyCauses, ","))
		}
	},
}

func init() {
	landscapeCmd.Flags().Int("limit", 100, "maximum agents to include")
	landscapeCmd.Flags().Bool("json", false, "emit the full landscape as JSON")
	rootCmd.AddCommand(landscapeCmd)
}
