package service

import (
	"context"
	"sort"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

// Landscape node colors by trust band
const (
	colorHealthy = "#2E8B57"
	colorCaution = "#D9A441"
	colorLow     = "#C74A4A"
)

// TrustHistory returns an agent's gradients most-recent-first
func (s *Service) TrustHistory(ctx context.Context, agentAddress string, limit int) ([]*types.TrustGradient, error) {
	if agentAddress == "" {
		return nil, &types.ValidationError{Field: "agent_address", Reason: "required"}
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.TrustHistory(ctx, agentAddress, limit)
}

// LatestTrustForAgents returns the latest gradient per requested agent.
// Agents with no scored signals are absent from the result.
func (s *Service) LatestTrustForAgents(ctx context.Context, agentAddresses []string) (map[string]*types.TrustGradient, error) {
	if len(agentAddresses) == 0 {
		return map[string]*types.TrustGradient{}, nil
	}
	return s.store.LatestGradientsForAgents(ctx, agentAddresses)
}

// Landscape projects the latest per-agent trust state for visualization.
// x is the trust score; y blends mission relevance and affinity match so
// poorly-routed agents sink even when their raw output scores well.
func (s *Service) Landscape(ctx context.Context, limit int) (*types.Landscape, error) {
	if limit <= 0 {
		limit = 100
	}
	gradients, err := s.store.LatestGradients(ctx, limit)
	if err != nil {
		return nil, err
	}
	identities, err := s.store.LatestIdentities(ctx)
	if err != nil {
		return nil, err
	}

	landscape := &types.Landscape{
		Nodes: make([]types.LandscapeNode, 0, len(gradients)),
		Summary: types.LandscapeSummary{
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}

	var sum float64
	minTrust, maxTrust := 1.0, 0.0
	for _, g := range gradients {
		node := types.LandscapeNode{
			AgentAddress: g.AgentAddress,
			TaskAffinity: []string{},
			TrustScore:   g.TrustScore,
			X:            g.TrustScore,
			Y:            types.Round4((g.MissionComponent + g.AffinityMatchComponent) / 2),
			LowTrustFlag: g.LowTrustFlag,
			StrongGates:  g.StrongGates,
			WeakGates:    g.WeakGates,
			LikelyCauses: g.LikelyCauses,
			Diagnostic:   g.Diagnostic,
			Color:        trustColor(g),
			UpdatedAt:    g.CreatedAt,
		}
		if identity, ok := identities[g.AgentAddress]; ok {
			node.Alias = identity.Alias
			node.BaseModel = identity.BaseModel
			node.PerceivedRole = identity.PerceivedRole
			node.TaskAffinity = identity.TaskAffinity
		}
		landscape.Nodes = append(landscape.Nodes, node)

		sum += g.TrustScore
		if g.TrustScore < minTrust {
			minTrust = g.TrustScore
		}
		if g.TrustScore > maxTrust {
			maxTrust = g.TrustScore
		}
		if g.LowTrustFlag {
			landscape.Summary.LowTrustCount++
		}
	}

	landscape.Summary.AgentCount = len(landscape.Nodes)
	if len(landscape.Nodes) > 0 {
		landscape.Summary.AvgTrust = types.Round4(sum / float64(len(landscape.Nodes)))
		landscape.Summary.MinTrust = minTrust
		landscape.Summary.MaxTrust = maxTrust
	}
	return landscape, nil
}

func trustColor(g *types.TrustGradient) string {
	switch {
	case g.TrustScore >= 0.75:
		return colorHealthy
	case g.TrustScore >= 0.55:
		return colorCaution
	default:
		return colorLow
	}
}

// AntiGamingReport scans recent gradients and summarizes the flagged ones.
// Advisory output: every flagged item already carries its penalty in the
// stored score.
func (s *Service) AntiGamingReport(ctx context.Context, limit int) (*types.AntiGamingReport, error) {
	if limit <= 0 {
		limit = s.cfg.AntiGamingWindow
	}
	gradients, err := s.store.RecentGradients(ctx, limit)
	if err != nil {
		return nil, err
	}

	report := &types.AntiGamingReport{
		Items: []types.AntiGamingItem{},
		Summary: types.AntiGamingSummary{
			Scanned:     len(gradients),
			FlagCounts:  map[string]int{},
			GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		},
	}
	for _, g := range gradients {
		if len(g.AntiGamingFlags) == 0 {
			continue
		}
		report.Summary.SuspiciousCount++
		for _, flag := range g.AntiGamingFlags {
			report.Summary.FlagCounts[flag]++
		}
		report.Items = append(report.Items, types.AntiGamingItem{
			EventID:      g.SignalEventID,
			AgentAddress: g.AgentAddress,
			Flags:        g.AntiGamingFlags,
			TrustScore:   g.TrustScore,
			CreatedAt:    g.CreatedAt,
		})
	}
	sort.SliceStable(report.Items, func(i, j int) bool {
		return report.Items[i].CreatedAt.After(report.Items[j].CreatedAt)
	})
	return report, nil
}
