package postgres

const schema = `
-- Agent identity packets, append-only. The latest row per agent is the
-- effective identity.
CREATE TABLE IF NOT EXISTS agent_identity_packets (
    id BIGSERIAL PRIMARY KEY,
    agent_address TEXT NOT NULL,
    base_model TEXT NOT NULL DEFAULT '',
    alias TEXT NOT NULL DEFAULT '',
    registered_timestamp TEXT NOT NULL,
    perceived_role TEXT NOT NULL DEFAULT '',
    self_grade DOUBLE PRECISION NOT NULL CHECK(self_grade >= 0 AND self_grade <= 1),
    context_hash TEXT NOT NULL DEFAULT '',
    task_affinity JSONB NOT NULL DEFAULT '[]',
    metadata JSONB NOT NULL DEFAULT '{}',
    packet_hash TEXT NOT NULL,
    audit_hash TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_identity_agent ON agent_identity_packets(agent_address, id DESC);

-- DGC signals, write-once per event_id
CREATE TABLE IF NOT EXISTS dgc_signals (
    id BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL UNIQUE,
    agent_address TEXT NOT NULL,
    signal_timestamp TEXT NOT NULL,
    task_id TEXT,
    task_type TEXT,
    artifact_id TEXT,
    source_alias TEXT,
    gate_scores JSONB NOT NULL DEFAULT '{}',
    collapse_dimensions JSONB NOT NULL DEFAULT '{}',
    mission_relevance DOUBLE PRECISION,
    metadata JSONB NOT NULL DEFAULT '{}',
    signature TEXT,
    payload_hash TEXT NOT NULL,
    audit_hash TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_signals_agent ON dgc_signals(agent_address, id DESC);
CREATE INDEX IF NOT EXISTS idx_signals_artifact ON dgc_signals(artifact_id);

-- Trust gradients, 1:1 with signals by event_id. Only the adjustment fields
-- are mutable.
CREATE TABLE IF NOT EXISTS trust_gradients (
    id BIGSERIAL PRIMARY KEY,
    signal_event_id TEXT NOT NULL UNIQUE REFERENCES dgc_signals(event_id),
    dgc_signal_id BIGINT NOT NULL,
    agent_address TEXT NOT NULL,
    task_id TEXT,
    task_type TEXT,
    artifact_id TEXT,
    base_trust_score DOUBLE PRECISION NOT NULL,
    trust_adjustment DOUBLE PRECISION NOT NULL DEFAULT 0,
    trust_score DOUBLE PRECISION NOT NULL,
    low_trust_flag BOOLEAN NOT NULL DEFAULT FALSE,
    gate_component DOUBLE PRECISION NOT NULL,
    mission_component DOUBLE PRECISION NOT NULL,
    collapse_component DOUBLE PRECISION NOT NULL,
    self_alignment_component DOUBLE PRECISION NOT NULL,
    affinity_match_component DOUBLE PRECISION NOT NULL,
    anti_gaming_flags JSONB NOT NULL DEFAULT '[]',
    weak_gates JSONB NOT NULL DEFAULT '[]',
    strong_gates JSONB NOT NULL DEFAULT '[]',
    high_collapse JSONB NOT NULL DEFAULT '[]',
    likely_causes JSONB NOT NULL DEFAULT '[]',
    diagnostic JSONB NOT NULL DEFAULT '{}',
    reviewer TEXT,
    adjust_reason TEXT,
    adjusted_at TIMESTAMPTZ,
    audit_hash TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_gradients_agent ON trust_gradients(agent_address, id DESC);
CREATE INDEX IF NOT EXISTS idx_gradients_score ON trust_gradients(trust_score);

-- Outcome witnesses, append-only, many per event
CREATE TABLE IF NOT EXISTS outcome_witnesses (
    id BIGSERIAL PRIMARY KEY,
    event_id TEXT NOT NULL REFERENCES dgc_signals(event_id),
    recorded_by TEXT NOT NULL,
    outcome_type TEXT NOT NULL CHECK(outcome_type IN ('tests', 'smoke', 'human_acceptance', 'user_feedback')),
    status TEXT NOT NULL CHECK(status IN ('pass', 'fail')),
    evidence JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_outcomes_event ON outcome_witnesses(event_id, id);

-- Policy versions, append-only; the current policy is the latest row
CREATE TABLE IF NOT EXISTS policy_versions (
    version INTEGER PRIMARY KEY,
    replay_penalty DOUBLE PRECISION NOT NULL,
    cross_agent_replay_penalty DOUBLE PRECISION NOT NULL,
    collusion_penalty DOUBLE PRECISION NOT NULL,
    outcome_pass_bonus DOUBLE PRECISION NOT NULL,
    outcome_fail_penalty DOUBLE PRECISION NOT NULL,
    human_acceptance_bonus DOUBLE PRECISION NOT NULL,
    max_adjustment_abs DOUBLE PRECISION NOT NULL,
    updated_by TEXT,
    reason TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Darwin tuning runs, append-only
CREATE TABLE IF NOT EXISTS darwin_runs (
    id BIGSERIAL PRIMARY KEY,
    run_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    dry_run BOOLEAN NOT NULL,
    baseline_policy JSONB NOT NULL,
    candidate_policy JSONB NOT NULL,
    baseline_objective DOUBLE PRECISION NOT NULL DEFAULT 0,
    candidate_objective DOUBLE PRECISION NOT NULL DEFAULT 0,
    false_positive_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
    accepted BOOLEAN NOT NULL DEFAULT FALSE,
    validation_result TEXT NOT NULL DEFAULT 'skipped',
    notes TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Witness chain. The explicit id primary key turns a lost serialization race
-- in the appender into a constraint error instead of a fork.
CREATE TABLE IF NOT EXISTS witness_chain (
    id BIGINT PRIMARY KEY,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    subject TEXT,
    meta JSONB NOT NULL DEFAULT '{}',
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_witness_subject ON witness_chain(subject);
`
