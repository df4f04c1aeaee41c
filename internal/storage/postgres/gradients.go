package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sab-lab/convergence/internal/types"
)

const gradientColumns = `id, signal_event_id, dgc_signal_id, agent_address,
       COALESCE(task_id, ''), COALESCE(task_type, ''), COALESCE(artifact_id, ''),
       base_trust_score, trust_adjustment, trust_score, low_trust_flag,
       gate_component, mission_component, collapse_component,
       self_alignment_component, affinity_match_component,
       anti_gaming_flags::text, weak_gates::text, strong_gates::text,
       high_collapse::text, likely_causes::text, diagnostic::text,
       COALESCE(reviewer, ''), COALESCE(adjust_reason, ''), adjusted_at,
       COALESCE(audit_hash, ''), created_at`

// InsertGradientIfAbsent inserts a derived gradient unless one already exists
// for the signal event
func (s *PostgresStorage) InsertGradientIfAbsent(ctx context.Context, gradient *types.TrustGradient) (bool, error) {
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

	err = s.pool.QueryRow(ctx, `
		INSERT INTO trust_gradients (
			signal_event_id, dgc_signal_id, agent_address, task_id, task_type,
			artifact_id, base_trust_score, trust_adjustment, trust_score,
			low_trust_flag, gate_component, mission_component, collapse_component,
			self_alignment_component, affinity_match_component, anti_gaming_flags,
			weak_gates, strong_gates, high_collapse, likely_causes, diagnostic,
			reviewer, adjust_reason, adjusted_at, audit_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (signal_event_id) DO NOTHING
		RETURNING id`,
		gradient.SignalEventID,
		gradient.SignalID,
		gradient.AgentAddress,
		nullable(gradient.TaskID),
		nullable(gradient.TaskType),
		nullable(gradient.ArtifactID),
		gradient.BaseTrustScore,
		gradient.TrustAdjustment,
		gradient.TrustScore,
		gradient.LowTrustFlag,
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
	).Scan(&gradient.ID)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to insert gradient for %s: %w", gradient.SignalEventID, err)
	}
	return true, nil
}

// GetGradientByEventID returns the trust gradient for a signal event
func (s *PostgresStorage) GetGradientByEventID(ctx context.Context, eventID string) (*types.TrustGradient, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		WHERE signal_event_id = $1`, eventID)

	gradient, err := scanGradient(row)
	if isNoRows(err) {
		return nil, &types.NotFoundError{Kind: "trust_gradient", Key: eventID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query gradient %s: %w", eventID, err)
	}
	return gradient, nil
}

// UpdateGradientAdjustment rewrites the mutable adjustment fields of a
// gradient. Base components and content-affecting fields are never touched.
func (s *PostgresStorage) UpdateGradientAdjustment(ctx context.Context, eventID string, update *types.AdjustmentUpdate) error {
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
		SET trust_adjustment = $1, trust_score = $2, low_trust_flag = $3, diagnostic = $4`
	args := []any{update.TrustAdjustment, update.TrustScore, update.LowTrustFlag, diagnosticJSON}

	if update.Reviewer != "" {
		args = append(args, update.Reviewer)
		query += fmt.Sprintf(", reviewer = $%d", len(args))
	}
	if update.Reason != "" {
		args = append(args, update.Reason)
		query += fmt.Sprintf(", adjust_reason = $%d", len(args))
	}
	if update.AdjustedAt != nil {
		args = append(args, *update.AdjustedAt)
		query += fmt.Sprintf(", adjusted_at = $%d", len(args))
	}
	args = append(args, eventID)
	query += fmt.Sprintf(" WHERE signal_event_id = $%d", len(args))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update gradient adjustment for %s: %w", eventID, err)
	}
	return nil
}

// TrustHistory returns an agent's gradients, most recent first
func (s *PostgresStorage) TrustHistory(ctx context.Context, agentAddress string, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		WHERE agent_address = $1
		ORDER BY id DESC
		LIMIT $2`, agentAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust history for %s: %w", agentAddress, err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// RecentGradients returns the most recent gradients across all agents
func (s *PostgresStorage) RecentGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+gradientColumns+`
		FROM trust_gradients
		ORDER BY id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent gradients: %w", err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// LatestGradients returns the latest gradient per agent, highest trust first
func (s *PostgresStorage) LatestGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT * FROM (
			SELECT DISTINCT ON (agent_address) `+gradientColumns+`
			FROM trust_gradients
			ORDER BY agent_address, id DESC
		) latest
		ORDER BY trust_score DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest gradients: %w", err)
	}
	defer rows.Close()
	return collectGradients(rows)
}

// LatestGradientsForAgents returns the latest gradient for each requested
// agent, keyed by address
func (s *PostgresStorage) LatestGradientsForAgents(ctx context.Context, agentAddresses []string) (map[string]*types.TrustGradient, error) {
	if len(agentAddresses) == 0 {
		return map[string]*types.TrustGradient{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (agent_address) `+gradientColumns+`
		FROM trust_gradients
		WHERE agent_address = ANY($1)
		ORDER BY agent_address, id DESC`, agentAddresses)
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

// ScoredEvents pairs recent gradients with their outcomes for darwin tuning
func (s *PostgresStorage) ScoredEvents(ctx context.Context, limit int) ([]*types.ScoredEvent, error) {
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
func (s *PostgresStorage) AttachAuditHash(ctx context.Context, eventID, auditHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dgc_signals
		SET audit_hash = COALESCE(audit_hash, $1)
		WHERE event_id = $2`, auditHash, eventID)
	if err != nil {
		return fmt.Errorf("failed to attach audit hash to signal %s: %w", eventID, err)
	}
	if tag.RowsAffected() == 0 {
		return &types.NotFoundError{Kind: "signal", Key: eventID}
	}

	if _, err := s.pool.Exec(ctx, `
		UPDATE trust_gradients
		SET audit_hash = COALESCE(audit_hash, $1)
		WHERE signal_event_id = $2`, auditHash, eventID); err != nil {
		return fmt.Errorf("failed to attach audit hash to gradient %s: %w", eventID, err)
	}
	return nil
}

func collectGradients(rows pgx.Rows) ([]*types.TrustGradient, error) {
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
	var flagsJSON, weakJSON, strongJSON, collapseJSON, causesJSON, diagnosticJSON string
	var adjustedAt *time.Time
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
		&g.LowTrustFlag,
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
	g.AdjustedAt = adjustedAt
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
