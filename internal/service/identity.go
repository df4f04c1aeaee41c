package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/codec"
	"github.com/sab-lab/convergence/internal/types"
)

// RegisterIdentity appends a new immutable identity row for an agent. The
// latest registration is the effective identity; there is no update or delete.
func (s *Service) RegisterIdentity(ctx context.Context, agentAddress string, packet *types.IdentityPacket) (*types.Identity, error) {
	if agentAddress == "" {
		return nil, &types.ValidationError{Field: "agent_address", Reason: "required"}
	}
	if packet == nil {
		return nil, &types.ValidationError{Field: "packet", Reason: "required"}
	}
	if packet.SelfGrade < 0 || packet.SelfGrade > 1 {
		return nil, &types.ValidationError{
			Field:  "self_grade",
			Reason: fmt.Sprintf("%.4f outside [0,1]", packet.SelfGrade),
		}
	}

	affinity, err := normalizeAffinity(packet.TaskAffinity)
	if err != nil {
		return nil, err
	}
	if err := validateMetadata("metadata", packet.Metadata); err != nil {
		return nil, err
	}

	metadata := packet.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	registered := packet.Timestamp
	if registered == "" {
		registered = time.Now().UTC().Format(time.RFC3339Nano)
	}

	packetHash, err := codec.Hash(map[string]any{
		"agent_address":  agentAddress,
		"base_model":     packet.BaseModel,
		"alias":          packet.Alias,
		"timestamp":      registered,
		"perceived_role": packet.PerceivedRole,
		"self_grade":     packet.SelfGrade,
		"context_hash":   packet.ContextHash,
		"task_affinity":  affinity,
		"metadata":       metadata,
	})
	if err != nil {
		return nil, err
	}

	auditHash, err := s.witnessAction(ctx, agentAddress, actionIdentityRegistered, agentAddress,
		map[string]any{"packet_hash": packetHash, "alias": packet.Alias})
	if err != nil {
		return nil, err
	}

	identity := &types.Identity{
		AgentAddress:        agentAddress,
		BaseModel:           packet.BaseModel,
		Alias:               packet.Alias,
		RegisteredTimestamp: registered,
		PerceivedRole:       packet.PerceivedRole,
		SelfGrade:           packet.SelfGrade,
		ContextHash:         packet.ContextHash,
		TaskAffinity:        affinity,
		Metadata:            metadata,
		PacketHash:          packetHash,
		AuditHash:           auditHash,
	}
	stored, err := s.store.StoreIdentity(ctx, identity)
	if err != nil {
		return nil, err
	}

	s.logger.Info("identity registered",
		zap.String("agent", agentAddress),
		zap.String("alias", packet.Alias),
		zap.Float64("self_grade", packet.SelfGrade))
	return stored, nil
}

// LatestIdentity returns an agent's effective identity
func (s *Service) LatestIdentity(ctx context.Context, agentAddress string) (*types.Identity, error) {
	return s.store.LatestIdentity(ctx, agentAddress)
}
