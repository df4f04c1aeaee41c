package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

const signalColumns = `id, event_id, agent_address, signal_timestamp,
       COALESCE(task_id, ''), COALESCE(task_type, ''), COALESCE(artifact_id, ''),
       COALESCE(source_alias, ''), gate_scores::text, collapse_dimensions::text,
       mission_relevance, metadata::text, COALESCE(signature, ''), payload_hash,
       COALESCE(audit_hash, ''), created_at`

// InsertSignalIfAbsent attempts the conditional insert keyed by event_id.
// Returns false with no error when another writer already holds the event_id.
func (s *PostgresStorage) InsertSignalIfAbsent(ctx context.Context, signal *types.Signal) (bool, error) {
	gateJSON, err := marshalJSON(signal.GateScores)
	if err != nil {
		return false, err
	}
	collapseJSON, err := marshalJSON(signal.CollapseDimensions)
	if err != nil {
		return false, err
	}
	metadataJSON, err := marshalJSON(signal.Metadata)
	if err != nil {
		return false, err
	}
	if signal.CreatedAt.IsZero() {
		signal.CreatedAt = time.Now().UTC()
	}

	var mission any
	if signal.MissionRelevance != nil {
		mission = *signal.MissionRelevance
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO dgc_signals (
			event_id, agent_address, signal_timestamp, task_id, task_type,
			artifact_id, source_alias, gate_scores, collapse_dimensions,
			mission_relevance, metadata, signature, payload_hash, audit_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id`,
		signal.EventID,
		signal.AgentAddress,
		signal.SignalTimestamp,
		nullable(signal.TaskID),
		nullable(signal.TaskType),
		nullable(signal.ArtifactID),
		nullable(signal.SourceAlias),
		gateJSON,
		collapseJSON,
		mission,
		metadataJSON,
		nullable(signal.Signature),
		signal.PayloadHash,
		nullable(signal.AuditHash),
		signal.CreatedAt,
	).Scan(&signal.ID)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert signal %s: %w", signal.EventID, err)
	}
	return true, nil
}

// GetSignalByEventID returns the stored signal for an event_id
func (s *PostgresStorage) GetSignalByEventID(ctx context.Context, eventID string) (*types.Signal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+signalColumns+`
		FROM dgc_signals
		WHERE event_id = $1`, eventID)

	signal, err := scanSignal(row)
	if isNoRows(err) {
		return nil, &types.NotFoundError{Kind: "signal", Key: eventID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query signal %s: %w", eventID, err)
	}
	return signal, nil
}

// RecentSignals returns the most recent signals, newest first
func (s *PostgresStorage) RecentSignals(ctx context.Context, limit int) ([]*types.Signal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+signalColumns+`
		FROM dgc_signals
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent signals: %w", err)
	}
	defer rows.Close()

	var out []*types.Signal
	for rows.Next() {
		signal, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		out = append(out, signal)
	}
	return out, rows.Err()
}

func scanSignal(row rowScanner) (*types.Signal, error) {
	var signal types.Signal
	var gateJSON, collapseJSON, metadataJSON string
	var mission *float64
	err := row.Scan(
		&signal.ID,
		&signal.EventID,
		&signal.AgentAddress,
		&signal.SignalTimestamp,
		&signal.TaskID,
		&signal.TaskType,
		&signal.ArtifactID,
		&signal.SourceAlias,
		&gateJSON,
		&collapseJSON,
		&mission,
		&metadataJSON,
		&signal.Signature,
		&signal.PayloadHash,
		&signal.AuditHash,
		&signal.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	signal.MissionRelevance = mission
	if err := unmarshalInto(gateJSON, &signal.GateScores); err != nil {
		return nil, err
	}
	if err := unmarshalInto(collapseJSON, &signal.CollapseDimensions); err != nil {
		return nil, err
	}
	if err := unmarshalInto(metadataJSON, &signal.Metadata); err != nil {
		return nil, err
	}
	return &signal, nil
}
