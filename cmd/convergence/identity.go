package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/sab-lab/convergence/internal/types"
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Manage agent identity registrations",
}

var identityRegisterCmd = &cobra.Command{
	Use:   "register <agent-address>",
	Short: "Register a new identity packet for an agent",
	Long: `Register a new identity packet. Identities are append-only; the latest
registration per agent is the effective one. Identity drift is modeled by
registering again, never by editing.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		agentAddress := args[0]
		packet := &types.IdentityPacket{}
		packet.BaseModel, _ = cmd.Flags().GetString("model")
		packet.Alias, _ = cmd.Flags().GetString("alias")
		packet.PerceivedRole, _ = cmd.Flags().GetString("role")
		packet.SelfGrade, _ = cmd.Flags().GetFloat64("self-grade")
		packet.ContextHash, _ = cmd.Flags().GetString("context-hash")
		packet.TaskAffinity, _ = cmd.Flags().GetStringSlice("affinity")

		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		identity, err := svc.RegisterIdentity(context.Background(), agentAddress, packet)
		if err != nil {
			fatal(err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s Identity registered: %s (%s)\n", green("✓"), identity.AgentAddress, identity.Alias)
		fmt.Printf("  packet_hash: %s\n", identity.PacketHash)
		fmt.Printf("  audit_hash:  %s\n", identity.AuditHash)
		if len(identity.TaskAffinity) > 0 {
			fmt.Printf("  affinity:    %v\n", identity.TaskAffinity)
		}
	},
}

var identityShowCmd = &cobra.Command{
	Use:   "show <agent-address>",
	Short: "Show an agent's effective identity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		svc, cleanup, err := openService()
		if err != nil {
			fatal(err)
		}
		defer cleanup()

		identity, err := svc.LatestIdentity(context.Background(), args[0])
		if err != nil {
			fatal(err)
		}

		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(identity); err != nil {
			fatal(err)
		}
	},
}

func init() {
	identityRegisterCmd.Flags().String("model", "", "base model identifier")
	identityRegisterCmd.Flags().String("alias", "", "display alias")
	identityRegisterCmd.Flags().String("role", "", "self-perceived role")
	identityRegisterCmd.Flags().Float64("self-grade", 0.5, "self-assessed competence in [0,1]")
	identityRegisterCmd.Flags().String("context-hash", "", "hash of the agent's working context")
	identityRegisterCmd.Flags().StringSlice("affinity", nil, "task affinity entries (repeatable)")

	identityCmd.AddCommand(identityRegisterCmd)
	identityCmd.AddCommand(identityShowCmd)
	rootCmd.AddCommand(identityCmd)
}
