// Package types defines the data model for the convergence/trust subsystem:
// agent identity packets, DGC behavioral signals, derived trust gradients,
// outcome witnesses, scoring policy versions, darwin tuning runs, and the
// hash-chained witness log. All persisted tables are append-only; the only
// mutable fields are the adjustment fields on a trust gradient.
package types

import "time"

// LowTrustThreshold is the fixed trust score below which a gradient is flagged
const LowTrustThreshold = 0.45

// Metadata and affinity bounds enforced before any write
const (
	MaxTaskAffinityEntries  = 32
	MaxTaskAffinityEntryLen = 80
	MaxMetadataItems        = 64
	MaxMetadataBytes        = 8192
)

// Identity is one immutable agent-identity registration. Identities are never
// edited; drift is modeled as new registrations and "latest by agent" wins.
type Identity struct {
	ID                  int64          `json:"id"`
	AgentAddress        string         `json:"agent_address"`
	BaseModel           string         `json:"base_model"`
	Alias               string         `json:"alias"`
	RegisteredTimestamp string         `json:"registered_timestamp"`
	PerceivedRole       string         `json:"perceived_role"`
	SelfGrade           float64        `json:"self_grade"`
	ContextHash         string         `json:"context_hash"`
	TaskAffinity        []string       `json:"task_affinity"`
	Metadata            map[string]any `json:"metadata"`
	PacketHash          string         `json:"packet_hash"`
	AuditHash           string         `json:"audit_hash,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
}

// IdentityPacket is the caller-supplied registration payload
type IdentityPacket struct {
	BaseModel     string         `json:"base_model"`
	Alias         string         `json:"alias"`
	Timestamp     string         `json:"timestamp"`
	PerceivedRole string         `json:"perceived_role"`
	SelfGrade     float64        `json:"self_grade"`
	ContextHash   string         `json:"context_hash"`
	TaskAffinity  []string       `json:"task_affinity"`
	Metadata      map[string]any `json:"metadata"`
}

// SignalPayload is the caller-supplied DGC signal body
type SignalPayload struct {
	EventID            string             `json:"event_id"`
	Timestamp          string             `json:"timestamp"`
	SchemaVersion      string             `json:"schema_version"`
	TaskID             string             `json:"task_id"`
	TaskType           string             `json:"task_type"`
	ArtifactID         string             `json:"artifact_id"`
	SourceAlias        string             `json:"source_alias"`
	GateScores         map[string]float64 `json:"gate_scores"`
	CollapseDimensions map[string]float64 `json:"collapse_dimensions"`
	MissionRelevance   *float64           `json:"mission_relevance"`
	Metadata           map[string]any     `json:"metadata"`
	Signature          string             `json:"signature"`
}

// Signal is one stored unit of behavioral evidence, write-once per event_id
type Signal struct {
	ID                 int64              `json:"id"`
	EventID            string             `json:"event_id"`
	AgentAddress       string             `json:"agent_address"`
	SignalTimestamp    string             `json:"signal_timestamp"`
	TaskID             string             `json:"task_id,omitempty"`
	TaskType           string             `json:"task_type,omitempty"`
	ArtifactID         string             `json:"artifact_id,omitempty"`
	SourceAlias        string             `json:"source_alias,omitempty"`
	GateScores         map[string]float64 `json:"gate_scores"`
	CollapseDimensions map[string]float64 `json:"collapse_dimensions"`
	MissionRelevance   *float64           `json:"mission_relevance,omitempty"`
	Metadata           map[string]any     `json:"metadata"`
	Signature          string             `json:"signature,omitempty"`
	PayloadHash        string             `json:"payload_hash"`
	AuditHash          string             `json:"audit_hash,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Anti-gaming flags attached to a trust gradient at derivation time
const (
	FlagReplayLaundering     = "replay_laundering_risk"
	FlagCrossAgentReplay     = "cross_agent_replay_risk"
	FlagSourceAliasCollusion = "source_alias_collusion_risk"
)

// Diagnostic likely-cause tags, ordered by assembly precedence
const (
	CauseContextQualityGap       = "context_quality_gap"
	CauseLiturgicalCollapseRisk  = "liturgical_collapse_risk"
	CauseTaskAffinityMismatch    = "task_affinity_mismatch"
	CauseSelfAssessmentGap       = "self_assessment_gap"
	CauseAntiGamingReview        = "anti_gaming_review_required"
	CauseOnTrack                 = "on_track"
	ActionRerouteOrImproveContext = "reroute_to_affinity_or_improve_context"
	ActionContinueGradientPath    = "continue_gradient_path"
)

// AdjustmentBreakdown decomposes a gradient's total trust adjustment.
// Invariant: Total = clamp(AntiGaming + Outcome + Manual), each component
// independently clamped to the policy's max_adjustment_abs before summation.
type AdjustmentBreakdown struct {
	Base       float64 `json:"base"`
	AntiGaming float64 `json:"anti_gaming"`
	Outcome    float64 `json:"outcome"`
	Manual     float64 `json:"manual"`
	Total      float64 `json:"total"`
	Effective  float64 `json:"effective"`
}

// Diagnostic is the fixed-shape diagnostic payload carried by every gradient
type Diagnostic struct {
	ObservedPerformance     float64             `json:"observed_performance"`
	TaskType                string              `json:"task_type,omitempty"`
	TaskAffinity            []string            `json:"task_affinity"`
	WeakGates               []string            `json:"weak_gates"`
	StrongGates             []string            `json:"strong_gates"`
	HighCollapseDimensions  []string            `json:"high_collapse_dimensions"`
	LikelyCauses            []string            `json:"likely_causes"`
	SuggestedAction         string              `json:"suggested_action"`
	Decomposition           AdjustmentBreakdown `json:"decomposition"`
}

// TrustGradient is the derived trust state for one signal (1:1 by event_id).
// Base components are set once at derivation; outcome recording and manual
// overrides mutate only the adjustment, score, flag, and decomposition fields.
type TrustGradient struct {
	ID                     int64      `json:"id"`
	SignalEventID          string     `json:"signal_event_id"`
	SignalID               int64      `json:"dgc_signal_id"`
	AgentAddress           string     `json:"agent_address"`
	TaskID                 string     `json:"task_id,omitempty"`
	TaskType               string     `json:"task_type,omitempty"`
	ArtifactID             string     `json:"artifact_id,omitempty"`
	BaseTrustScore         float64    `json:"base_trust_score"`
	TrustAdjustment        float64    `json:"trust_adjustment"`
	TrustScore             float64    `json:"trust_score"`
	LowTrustFlag           bool       `json:"low_trust_flag"`
	GateComponent          float64    `json:"gate_component"`
	MissionComponent       float64    `json:"mission_component"`
	CollapseComponent      float64    `json:"collapse_component"`
	SelfAlignmentComponent float64    `json:"self_alignment_component"`
	AffinityMatchComponent float64    `json:"affinity_match_component"`
	AntiGamingFlags        []string   `json:"anti_gaming_flags"`
	WeakGates              []string   `json:"weak_gates"`
	StrongGates            []string   `json:"strong_gates"`
	HighCollapse           []string   `json:"high_collapse"`
	LikelyCauses           []string   `json:"likely_causes"`
	Diagnostic             Diagnostic `json:"diagnostic"`
	Reviewer               string     `json:"reviewer,omitempty"`
	AdjustReason           string     `json:"adjust_reason,omitempty"`
	AdjustedAt             *time.Time `json:"adjusted_at,omitempty"`
	AuditHash              string     `json:"audit_hash,omitempty"`
	CreatedAt              time.Time  `json:"created_at"`
}

// AdjustmentUpdate carries the recomputed mutable fields of a gradient
type AdjustmentUpdate struct {
	TrustAdjustment float64
	TrustScore      float64
	LowTrustFlag    bool
	Breakdown       AdjustmentBreakdown
	Reviewer        string // empty leaves the stored value unchanged
	Reason          string // empty leaves the stored value unchanged
	AdjustedAt      *time.Time
}

// OutcomeType classifies how an outcome was independently verified
type OutcomeType string

const (
	OutcomeTests           OutcomeType = "tests"
	OutcomeSmoke           OutcomeType = "smoke"
	OutcomeHumanAcceptance OutcomeType = "human_acceptance"
	OutcomeUserFeedback    OutcomeType = "user_feedback"
)

// ValidOutcomeType reports whether t is a member of the closed enum
func ValidOutcomeType(t OutcomeType) bool {
	switch t {
	case OutcomeTests, OutcomeSmoke, OutcomeHumanAcceptance, OutcomeUserFeedback:
		return true
	}
	return false
}

// OutcomeStatus is the verified pass/fail result
type OutcomeStatus string

const (
	OutcomePass OutcomeStatus = "pass"
	OutcomeFail OutcomeStatus = "fail"
)

// ValidOutcomeStatus reports whether s is a member of the closed enum
func ValidOutcomeStatus(s OutcomeStatus) bool {
	return s == OutcomePass || s == OutcomeFail
}

// Outcome is one append-only verified result against a prior signal
type Outcome struct {
	ID         int64          `json:"id"`
	EventID    string         `json:"event_id"`
	RecordedBy string         `json:"recorded_by"`
	Type       OutcomeType    `json:"outcome_type"`
	Status     OutcomeStatus  `json:"status"`
	Evidence   map[string]any `json:"evidence"`
	CreatedAt  time.Time      `json:"created_at"`
}

// OutcomeRequest is the caller-supplied outcome submission
type OutcomeRequest struct {
	EventID    string         `json:"event_id"`
	RecordedBy string         `json:"recorded_by"`
	Type       OutcomeType    `json:"outcome_type"`
	Status     OutcomeStatus  `json:"status"`
	Evidence   map[string]any `json:"evidence"`
}

// Policy is one version of the scoring/penalty policy. History is append-only;
// the current policy is the latest row. Every numeric field is bounded to
// [-0.60, 0.60].
type Policy struct {
	Version                 int       `json:"version"`
	ReplayPenalty           float64   `json:"replay_penalty"`
	CrossAgentReplayPenalty float64   `json:"cross_agent_replay_penalty"`
	CollusionPenalty        float64   `json:"collusion_penalty"`
	OutcomePassBonus        float64   `json:"outcome_pass_bonus"`
	OutcomeFailPenalty      float64   `json:"outcome_fail_penalty"`
	HumanAcceptanceBonus    float64   `json:"human_acceptance_bonus"`
	MaxAdjustmentAbs        float64   `json:"max_adjustment_abs"`
	UpdatedBy               string    `json:"updated_by,omitempty"`
	Reason                  string    `json:"reason,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
}

// DarwinRun is one append-only record of a policy tuning attempt
type DarwinRun struct {
	ID                 int64     `json:"id"`
	RunID              string    `json:"run_id"`
	Status             string    `json:"status"` // completed | insufficient_data | failed
	DryRun             bool      `json:"dry_run"`
	BaselinePolicy     Policy    `json:"baseline_policy"`
	CandidatePolicy    Policy    `json:"candidate_policy"`
	BaselineObjective  float64   `json:"baseline_objective"`
	CandidateObjective float64   `json:"candidate_objective"`
	FalsePositiveRate  float64   `json:"false_positive_rate"`
	Accepted           bool      `json:"accepted"`
	ValidationResult   string    `json:"validation_result"` // skipped | passed | failed: <detail>
	Notes              string    `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// WitnessRecord is one link in the hash-chained audit log.
// Hash covers the canonical form of every field except Hash itself;
// PrevHash of record n equals Hash of record n-1, empty string for the first.
type WitnessRecord struct {
	ID        int64          `json:"id"`
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	Actor     string         `json:"actor"`
	Subject   string         `json:"subject,omitempty"`
	Meta      map[string]any `json:"meta"`
	PrevHash  string         `json:"prev_hash"`
	Hash      string         `json:"hash"`
}

// ScoredEvent pairs a trust gradient with its recorded outcomes (darwin input)
type ScoredEvent struct {
	Gradient *TrustGradient `json:"gradient"`
	Outcomes []*Outcome     `json:"outcomes"`
}

// IngestResult is the response to a signal ingestion call
type IngestResult struct {
	Signal           *Signal        `json:"signal"`
	Gradient         *TrustGradient `json:"gradient"`
	IdempotentReplay bool           `json:"idempotent_replay"`
}

// LandscapeNode is one agent's latest trust state projected for visualization
type LandscapeNode struct {
	AgentAddress  string     `json:"agent_address"`
	Alias         string     `json:"alias"`
	BaseModel     string     `json:"base_model,omitempty"`
	PerceivedRole string     `json:"perceived_role,omitempty"`
	TaskAffinity  []string   `json:"task_affinity"`
	TrustScore    float64    `json:"trust_score"`
	X             float64    `json:"x"`
	Y             float64    `json:"y"`
	LowTrustFlag  bool       `json:"low_trust_flag"`
	StrongGates   []string   `json:"strong_gates"`
	WeakGates     []string   `json:"weak_gates"`
	LikelyCauses  []string   `json:"likely_causes"`
	Diagnostic    Diagnostic `json:"diagnostic"`
	Color         string     `json:"color"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// LandscapeSummary aggregates the projected nodes
type LandscapeSummary struct {
	AgentCount    int     `json:"agent_count"`
	AvgTrust      float64 `json:"avg_trust"`
	MinTrust      float64 `json:"min_trust"`
	MaxTrust      float64 `json:"max_trust"`
	LowTrustCount int     `json:"low_trust_count"`
	GeneratedAt   string  `json:"generated_at"`
}

// Landscape is the read-only projection of latest per-agent trust state
type Landscape struct {
	Summary LandscapeSummary `json:"summary"`
	Nodes   []LandscapeNode  `json:"nodes"`
}

// AntiGamingItem is one flagged (or clean) gradient in a scan report
type AntiGamingItem struct {
	EventID      string    `json:"event_id"`
	AgentAddress string    `json:"agent_address"`
	Flags        []string  `json:"flags"`
	TrustScore   float64   `json:"trust_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// AntiGamingSummary aggregates a scan over recent gradients
type AntiGamingSummary struct {
	Scanned         int            `json:"scanned"`
	SuspiciousCount int            `json:"suspicious_count"`
	FlagCounts      map[string]int `json:"flag_counts"`
	GeneratedAt     string         `json:"generated_at"`
}

// AntiGamingReport is the advisory scan output, most-recent-first
type AntiGamingReport struct {
	Summary AntiGamingSummary `json:"summary"`
	Items   []AntiGamingItem  `json:"items"`
}
