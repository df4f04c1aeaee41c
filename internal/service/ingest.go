package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/trust"
	"github.com/sab-lab/convergence/internal/types"
)

// DefaultSchemaVersion is assumed for payloads that omit schema_version
const DefaultSchemaVersion = "dgc.v1"

// IngestSignal processes one behavioral-evidence event. Exactly one signal
// row and one trust gradient exist per event_id no matter how many concurrent
// callers submit it; resubmission of identical content returns the stored
// result flagged as an idempotent replay, and mismatched content is an
// EventConflictError.
func (s *Service) IngestSignal(ctx context.Context, agentAddress, secret string, payload *types.SignalPayload) (*types.IngestResult, error) {
	if err := s.checkSecret(secret); err != nil {
		return nil, err
	}
	if agentAddress == "" {
		return nil, &types.ValidationError{Field: "agent_address", Reason: "required"}
	}
	if payload == nil {
		return nil, &types.ValidationError{Field: "payload", Reason: "required"}
	}
	if payload.EventID == "" {
		return nil, &types.ValidationError{Field: "event_id", Reason: "required"}
	}
	if !s.allowIngest(agentAddress) {
		return nil, &types.ValidationError{Field: "agent_address", Reason: "ingestion rate exceeded"}
	}
	if err := validateScoreMap("gate_scores", payload.GateScores); err != nil {
		return nil, err
	}
	if err := validateScoreMap("collapse_dimensions", payload.CollapseDimensions); err != nil {
		return nil, err
	}
	if payload.MissionRelevance != nil && (*payload.MissionRelevance < 0 || *payload.MissionRelevance > 1) {
		return nil, &types.ValidationError{
			Field:  "mission_relevance",
			Reason: fmt.Sprintf("%.4f outside [0,1]", *payload.MissionRelevance),
		}
	}
	if err := validateMetadata("metadata", payload.Metadata); err != nil {
		return nil, err
	}

	signal, err := s.coerceSignal(agentAddress, payload)
	if err != nil {
		return nil, err
	}

	// Fast path: event_id already processed
	if existing, err := s.store.GetSignalByEventID(ctx, signal.EventID); err == nil {
		return s.reconcileReplay(ctx, signal, existing)
	} else if !types.IsNotFound(err) {
		return nil, err
	}

	inserted, err := s.store.InsertSignalIfAbsent(ctx, signal)
	if err != nil {
		return nil, err
	}
	if !inserted {
		// Lost the insert race; the winner's row decides
		existing, err := s.store.GetSignalByEventID(ctx, signal.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to re-read signal %s after race: %w", signal.EventID, err)
		}
		return s.reconcileReplay(ctx, signal, existing)
	}

	stored, err := s.store.GetSignalByEventID(ctx, signal.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to read back signal %s: %w", signal.EventID, err)
	}

	gradient, err := s.deriveAndStoreGradient(ctx, stored)
	if err != nil {
		return nil, err
	}

	auditHash, err := s.witnessAction(ctx, agentAddress, actionSignalIngested, stored.EventID, map[string]any{
		"payload_hash": stored.PayloadHash,
		"trust_score":  gradient.TrustScore,
	})
	if err != nil {
		return nil, err
	}
	if err := s.store.AttachAuditHash(ctx, stored.EventID, auditHash); err != nil {
		return nil, err
	}
	stored.AuditHash = auditHash

	s.logger.Info("signal ingested",
		zap.String("event_id", stored.EventID),
		zap.String("agent", agentAddress),
		zap.Float64("trust_score", gradient.TrustScore),
		zap.Bool("low_trust", gradient.LowTrustFlag),
		zap.Strings("anti_gaming_flags", gradient.AntiGamingFlags))

	return &types.IngestResult{Signal: stored, Gradient: gradient, IdempotentReplay: false}, nil
}

// coerceSignal validates time/shape fields and computes the payload hash
func (s *Service) coerceSignal(agentAddress string, payload *types.SignalPayload) (*types.Signal, error) {
	timestamp := payload.Timestamp
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	schemaVersion := payload.SchemaVersion
	if schemaVersion == "" {
		schemaVersion = DefaultSchemaVersion
	}

	gateScores := payload.GateScores
	if gateScores == nil {
		gateScores = map[string]float64{}
	}
	collapse := payload.CollapseDimensions
	if collapse == nil {
		collapse = map[string]float64{}
	}
	// Copied before defaulting; the caller's map is not ours to mutate
	metadata := make(map[string]any, len(payload.Metadata)+1)
	for k, v := range payload.Metadata {
		metadata[k] = v
	}
	metadata["schema_version"] = schemaVersion

	payloadHash, err := trust.ContentFingerprint(payload.TaskType, payload.ArtifactID,
		payload.SourceAlias, gateScores, collapse, payload.MissionRelevance)
	if err != nil {
		return nil, err
	}

	return &types.Signal{
		EventID:            payload.EventID,
		AgentAddress:       agentAddress,
		SignalTimestamp:    timestamp,
		TaskID:             payload.TaskID,
		TaskType:           payload.TaskType,
		ArtifactID:         payload.ArtifactID,
		SourceAlias:        payload.SourceAlias,
		GateScores:         gateScores,
		CollapseDimensions: collapse,
		MissionRelevance:   payload.MissionRelevance,
		Metadata:           metadata,
		Signature:          payload.Signature,
		PayloadHash:        payloadHash,
	}, nil
}

// reconcileReplay decides whether a pre-existing row for the event_id is an
// honest resubmission or a conflict. The stored row is never modified.
func (s *Service) reconcileReplay(ctx context.Context, submitted, stored *types.Signal) (*types.IngestResult, error) {
	if stored.AgentAddress != submitted.AgentAddress {
		return nil, &types.EventConflictError{EventID: stored.EventID, Reason: types.ConflictAgentMismatch}
	}
	if stored.PayloadHash != submitted.PayloadHash {
		return nil, &types.EventConflictError{EventID: stored.EventID, Reason: types.ConflictPayloadMismatch}
	}

	gradient, err := s.store.GetGradientByEventID(ctx, stored.EventID)
	if types.IsNotFound(err) {
		// A prior ingest crashed between signal insert and gradient insert.
		// Derivation is deterministic from the stored row, so heal in place.
		gradient, err = s.deriveAndStoreGradient(ctx, stored)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Debug("idempotent replay",
		zap.String("event_id", stored.EventID),
		zap.String("agent", stored.AgentAddress))
	return &types.IngestResult{Signal: stored, Gradient: gradient, IdempotentReplay: true}, nil
}

// deriveAndStoreGradient runs detection and derivation for a stored signal.
// If a concurrent caller stored the gradient first, theirs wins.
func (s *Service) deriveAndStoreGradient(ctx context.Context, stored *types.Signal) (*types.TrustGradient, error) {
	recent, err := s.store.RecentSignals(ctx, s.cfg.AntiGamingWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load detection window: %w", err)
	}
	flags, err := trust.DetectFlags(stored, recent)
	if err != nil {
		// Detection is advisory; a serialization failure inside it must not
		// block ingestion
		s.logger.Warn("anti-gaming detection failed",
			zap.String("event_id", stored.EventID), zap.Error(err))
		flags = []string{}
	}

	currentPolicy, err := s.policies.Current(ctx)
	if err != nil {
		return nil, err
	}
	antiAdjustment := trust.AdjustmentForFlags(flags, currentPolicy)

	var identity *types.Identity
	if ident, err := s.store.LatestIdentity(ctx, stored.AgentAddress); err == nil {
		identity = ident
	} else if !types.IsNotFound(err) {
		return nil, err
	}

	gradient := trust.Derive(stored, identity, flags, antiAdjustment)

	inserted, err := s.store.InsertGradientIfAbsent(ctx, gradient)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return s.store.GetGradientByEventID(ctx, stored.EventID)
	}
	return s.store.GetGradientByEventID(ctx, stored.EventID)
}
