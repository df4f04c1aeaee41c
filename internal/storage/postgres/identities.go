package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

const identityColumns = `id, agent_address, base_model, alias, registered_timestamp,
       perceived_role, self_grade, context_hash, task_affinity::text, metadata::text,
       packet_hash, COALESCE(audit_hash, ''), created_at`

// StoreIdentity appends a new immutable identity row
func (s *PostgresStorage) StoreIdentity(ctx context.Context, identity *types.Identity) (*types.Identity, error) {
	affinityJSON, err := marshalJSON(identity.TaskAffinity)
	if err != nil {
		return nil, err
	}
	metadataJSON, err := marshalJSON(identity.Metadata)
	if err != nil {
		return nil, err
	}
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now().UTC()
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO agent_identity_packets (
			agent_address, base_model, alias, registered_timestamp,
			perceived_role, self_grade, context_hash, task_affinity,
			metadata, packet_hash, audit_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		identity.AgentAddress,
		identity.BaseModel,
		identity.Alias,
		identity.RegisteredTimestamp,
		identity.PerceivedRole,
		identity.SelfGrade,
		identity.ContextHash,
		affinityJSON,
		metadataJSON,
		identity.PacketHash,
		nullable(identity.AuditHash),
		identity.CreatedAt,
	).Scan(&identity.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to store identity for %s: %w", identity.AgentAddress, err)
	}
	return identity, nil
}

// LatestIdentity returns the most recent identity row for an agent
func (s *PostgresStorage) LatestIdentity(ctx context.Context, agentAddress string) (*types.Identity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+identityColumns+`
		FROM agent_identity_packets
		WHERE agent_address = $1
		ORDER BY id DESC
		LIMIT 1`, agentAddress)

	identity, err := scanIdentity(row)
	if isNoRows(err) {
		return nil, &types.NotFoundError{Kind: "agent_identity", Key: agentAddress}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest identity for %s: %w", agentAddress, err)
	}
	return identity, nil
}

// LatestIdentities returns the latest identity row per agent, keyed by address
func (s *PostgresStorage) LatestIdentities(ctx context.Context) (map[string]*types.Identity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (agent_address) `+identityColumns+`
		FROM agent_identity_packets
		ORDER BY agent_address, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest identities: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.Identity)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan identity row: %w", err)
		}
		out[identity.AgentAddress] = identity
	}
	return out, rows.Err()
}

func scanIdentity(row rowScanner) (*types.Identity, error) {
	var identity types.Identity
	var affinityJSON, metadataJSON string
	err := row.Scan(
		&identity.ID,
		&identity.AgentAddress,
		&identity.BaseModel,
		&identity.Alias,
		&identity.RegisteredTimestamp,
		&identity.PerceivedRole,
		&identity.SelfGrade,
		&identity.ContextHash,
		&affinityJSON,
		&metadataJSON,
		&identity.PacketHash,
		&identity.AuditHash,
		&identity.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalInto(affinityJSON, &identity.TaskAffinity); err != nil {
		return nil, err
	}
	if err := unmarshalInto(metadataJSON, &identity.Metadata); err != nil {
		return nil, err
	}
	return &identity, nil
}
