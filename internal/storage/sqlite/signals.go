package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

const signalColumns = `id, event_id, agent_address, signal_timestamp,
       COALESCE(task_id, ''), COALESCE(task_type, ''), COALESCE(artifact_id, ''),
       COALESCE(source_alias, ''), gate_scores, collapse_dimensions,
       mission_relevance, metadata, COALESCE(signature, ''), payload_hash,
       COALESCE(audit_hash, ''), created_at`

// InsertSignalIfAbsent attempts the conditional insert keyed by event_id.
// Returns false with no error when another writer already holds the event_id;
// the caller re-reads and reconciles.
func (s *SQLiteStorage) InsertSignalIfAbsent(ctx context.Context, signal *types.Signal) (bool, error) {
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

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dgc_signals (
			event_id, agent_address, signal_timestamp, task_id, task_type,
			artifact_id, source_alias, gate_scores, collapse_dimensions,
			mission_relevance, metadata, signature, payload_hash, audit_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert signal %s: %w", signal.EventID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read signal insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read signal insert id: %w", err)
	}
	signal.ID = id
	return true, nil
}

// GetSignalByEventID returns the stored signal for an event_id
func (s *SQLiteStorage) GetSignalByEventID(ctx context.Context, eventID string) (*types.Signal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+signalColumns+`
		FROM dgc_signals
		WHERE event_id = ?`, eventID)

	signal, err := scanSignal(row)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Kind: "signal", Key: eventID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query signal %s: %w", eventID, err)
	}
	return signal, nil
}

// RecentSignals returns the most recent signals, newest first
func (s *SQLiteStorage) RecentSignals(ctx context.Context, limit int) ([]*types.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+signalColumns+`
		FROM dgc_signals
		ORDER BY id DESC
		LIMIT ?`, limit)
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
	var mission sql.NullFloat64
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
	if mission.Valid {
		v := mission.Float64
		signal.MissionRelevance = &v
	}
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
