package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sab-lab/convergence/internal/types"
)

const gradientColumns = `id, signal_event_id, dgc_signal_id, agent_address,
       COALESCE(task_id, ''), COALESCE(task_type, ''), COALESCE(artifact_id, ''),
       base_trust_score, trust_adjustment, trust_score, low_trust_flag,
       gate_component, mission_component, collapse_component,
       self_alignment_component, affinity_match_component,
       anti_gaming_flags, weak_gates, strong_gates, high_collapse,
       likely_causes, diagnostic, COALESCE(reviewer, ''),
       COALESCE(adjust_reason, ''), adjusted_at, COALESCE(audit_hash, ''), created_at`

// InsertGradientIfAbsent inserts a derived gradient unless one already exists
// for the signal event
func (s *SQLiteStorage) InsertGradientIfAbsent(ctx context.Context, gradient *types.TrustGradient) (bool, error) {
	flagsJSON, err := marshalJSON(gradient.AntiGamingFlags)
	if err != nil {
		return false, err
	}
	weakJSON, err := marshalJSON(gradient.WeakGates)
	if err != nil {
		return false, err
	}
	strongJSON, err := marshalJSON(gradient.StrongGates)
	if err != nil {
		return false, err
	}
	collapseJSON, err := marshalJSON(gradient.HighCollapse)
	if err != nil {
		return false, err
	}
	causesJSON, err := marshalJSON(gradient.LikelyCauses)
	if err != nil {
		return false, err
	}
	diagnosticJSON, err := marshalJSON(gradient.Diagnostic)
	if err != nil {
		return false, err
	}

	if gradient.CreatedAt.IsZero() {
		gradient.CreatedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trust_gradients (
			signal_event_id, dgc_signal_id, agent_address, task_id, task_type,
			artifact_id, base_trust_score, trust_adjustment, trust_score,
			low_trust_flag, gate_component, mission_component, collapse_component,
			self_alignment_component, affinity_match_component, anti_gaming_flags,
			weak_gates, strong_gates, high_collapse, likely_causes, diagnostic,
			reviewer, adjust_reason, adjusted_at, audit_hash, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		gradient.SignalEventID,
		gradient.SignalID,
		gradient.AgentAddress,
		nullable(gradient.TaskID),
		nullable(gradient.TaskType),
		nullable(gradient.ArtifactID),
		gradient.BaseTrustScore,
		gradient.TrustAdjustment,
		gradient.TrustScore,
		boolToInt(gradient.LowTrustFlag),
		gradient.GateComponent,
		gradient.MissionComponent,
		gradient.CollapseComponent,
		gradient.SelfAlignmentComponent,
		gradient.AffinityMatchComponent,
		flagsJSON,
		weakJSON,
		strongJSON,
		collapseJSON,
		causesJSON,
		diagnosticJSON,
		nullable(gradient.Reviewer),
		nullable(gradient.AdjustReason),
		gradient.AdjustedAt,
		nullable(gradient.AuditHash),
		gradient.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert gradient for %s: %w", gradient.SignalEventID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read gradient insert result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	id, err := result.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("failed to read gradient insert id: %w", err)
	}
	gradient.ID = id
	return true, nil
}

// GetGradientByEventID returns the trust gradient for a signal event
func (s *SQLiteStorage) GetGradientByEventID(ctx context.Context, eventID string) (*types.TrustGradient, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		WHERE signal_event_id = ?`, eventID)

	gradient, err := scanGradient(row)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Kind: "trust_gradient", Key: eventID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query gradient %s: %w", eventID, err)
	}
	return gradient, nil
}

// UpdateGradientAdjustment rewrites the mutable adjustment fields of a
// gradient. Base components and content-affecting fields are never touched.
func (s *SQLiteStorage) UpdateGradientAdjustment(ctx context.Context, eventID string, update *types.AdjustmentUpdate) error {
	gradient, err := s.GetGradientByEventID(ctx, eventID)
	if err != nil {
		return err
	}

	diagnostic := gradient.Diagnostic
	diagnostic.Decomposition = update.Breakdown
	diagnosticJSON, err := marshalJSON(diagnostic)
	if err != nil {
		return err
	}

	query := `
		UPDATE trust_gradients
		SET trust_adjustment = ?, trust_score = ?, low_trust_flag = ?, diagnostic = ?`
	args := []any{update.TrustAdjustment, update.TrustScore, boolToInt(update.LowTrustFlag), diagnosticJSON}

	if update.Reviewer != "" {
		query += ", reviewer = ?"
		args = append(args, update.Reviewer)
	}
	if update.Reason != "" {
		query += ", adjust_reason = ?"
		args = append(args, update.Reason)
	}
	if update.AdjustedAt != nil {
		query += ", adjusted_at = ?"
		args = append(args, *update.AdjustedAt)
	}
	query += " WHERE signal_event_id = ?"
	args = append(args, eventID)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update gradient adjustment for %s: %w", eventID, err)
	}
	return nil
}

// TrustHistory returns an agent's gradients, most recent first
func (s *SQLiteStorage) TrustHistory(ctx context.Context, agentAddress string, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		WHERE agent_address = ?
		ORDER BY id DESC
		LIMIT ?`, agentAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust history for %s: %w", agentAddress, err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// RecentGradients returns the most recent gradients across all agents
func (s *SQLiteStorage) RecentGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent gradients: %w", err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// LatestGradients returns the latest gradient per agent, highest trust first
func (s *SQLiteStorage) LatestGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients t
		WHERE t.id = (
			SELECT MAX(id) FROM trust_gradients
			WHERE agent_address = t.agent_address
		)
		ORDER BY t.trust_score DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest gradients: %w", err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// LatestGradientsForAgents returns the latest gradient for each requested
// agent, keyed by address
func (s *SQLiteStorage) LatestGradientsForAgents(ctx context.Context, agentAddresses []string) (map[string]*types.TrustGradient, error) {
	if len(agentAddresses) == 0 {
		return map[string]*types.TrustGradient{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(agentAddresses)), ",")
	args := make([]any, len(agentAddresses))
	for i, addr := range agentAddresses {
		args[i] = addr
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients t
		WHERE t.agent_address IN (`+placeholders+`)
		AND t.id = (
			SELECT MAX(id) FROM trust_gradients
			WHERE agent_address = t.agent_address
		)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest gradients for agents: %w", err)
	}
	defer rows.Close()

	gradients, err := collectGradients(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*types.TrustGradient, len(gradients))
	for _, g := range gradients {
		out[g.AgentAddress] = g
	}
	return out, nil
}

// ScoredEvents pairs recent gradients with their outcomes for darwin tuning.
// Only events with at least one outcome contribute to the objective, but the
// caller receives every gradient so flag statistics stay complete.
func (s *SQLiteStorage) ScoredEvents(ctx context.Context, limit int) ([]*types.ScoredEvent, error) {
	gradients, err := s.RecentGradients(ctx, limit)
	if err != nil {
		return nil, err
	}

	out := make([]*types.ScoredEvent, 0, len(gradients))
	for _, g := range gradients {
		outcomes, err := s.OutcomesForEvent(ctx, g.SignalEventID)
		if err != nil {
			return nil, err
		}
		out = append(out, &types.ScoredEvent{Gradient: g, Outcomes: outcomes})
	}
	return out, nil
}

// AttachAuditHash sets the witness hash on the signal and gradient rows for
// an event if not already set
func (s *SQLiteStorage) AttachAuditHash(ctx context.Context, eventID, auditHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE dgc_signals
		SET audit_hash = COALESCE(audit_hash, ?)
		WHERE event_id = ?`, auditHash, eventID)
	if err != nil {
		return fmt.Errorf("failed to attach audit hash to signal %s: %w", eventID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read audit hash update result: %w", err)
	}
	if affected == 0 {
		return &types.NotFoundError{Kind: "signal", Key: eventID}
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE trust_gradients
		SET audit_hash = COALESCE(audit_hash, ?)
		WHERE signal_event_id = ?`, auditHash, eventID); err != nil {
		return fmt.Errorf("failed to attach audit hash to gradient %s: %w", eventID, err)
	}
	return nil
}

func collectGradients(rows *sql.Rows) ([]*types.TrustGradient, error) {
	var out []*types.TrustGradient
	for rows.Next() {
		gradient, err := scanGradient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gradient row: %w", err)
		}
		out = append(out, gradient)
	}
	return out, rows.Err()
}

func scanGradient(row rowScanner) (*types.TrustGradient, error) {
	var g types.TrustGradient
	var lowTrust int
	var flagsJSON, weakJSON, strongJSON, collapseJSON, causesJSON, diagnosticJSON string
	var adjustedAt sql.NullTime
	err := row.Scan(
		&g.ID,
		&g.SignalEventID,
		&g.SignalID,
		&g.AgentAddress,
		&g.TaskID,
		&g.TaskType,
		&g.ArtifactID,
		&g.BaseTrustScore,
		&g.TrustAdjustment,
		&g.TrustScore,
		&lowTrust,
		&g.GateComponent,
		&g.MissionComponent,
		&g.CollapseComponent,
		&g.SelfAlignmentComponent,
		&g.AffinityMatchComponent,
		&flagsJSON,
		&weakJSON,
		&strongJSON,
		&collapseJSON,
		&causesJSON,
		&diagnosticJSON,
		&g.Reviewer,
		&g.AdjustReason,
		&adjustedAt,
		&g.AuditHash,
		&g.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.LowTrustFlag = lowTrust != 0
	if adjustedAt.Valid {
		t := adjustedAt.Time
		g.AdjustedAt = &t
	}
	if err := unmarshalInto(flagsJSON, &g.AntiGamingFlags); err != nil {
		return nil, err
	}
	if err := unmarshalInto(weakJSON, &g.WeakGates); err != nil {
		return nil, err
	}
	if err := unmarshalInto(strongJSON, &g.StrongGates); err != nil {
		return nil, err
	}
	if err := unmarshalInto(collapseJSON, &g.HighCollapse); err != nil {
		return nil, err
	}
	if err := unmarshalInto(causesJSON, &g.LikelyCauses); err != nil {
		return nil, err
	}
	if err := unmarshalInto(diagnosticJSON, &g.Diagnostic); err != nil {
		return nil, err
	}
	return &g, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
