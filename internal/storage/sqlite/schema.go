package sqlite

const schema = `
-- Agent identity packets (append-only; latest row per agent wins)
CREATE TABLE IF NOT EXISTS agent_identity_packets (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_address TEXT NOT NULL,
    base_model TEXT NOT NULL,
    alias TEXT NOT NULL,
    registered_timestamp TEXT NOT NULL,
    perceived_role TEXT NOT NULL,
    self_grade REAL NOT NULL CHECK(self_grade >= 0.0 AND self_grade <= 1.0),
    context_hash TEXT NOT NULL,
    task_affinity TEXT NOT NULL,
    metadata TEXT NOT NULL,
    packet_hash TEXT NOT NULL,
    audit_hash TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_identity_agent_id ON agent_identity_packets(agent_address, id DESC);

-- DGC behavioral signals (write-once per event_id)
CREATE TABLE IF NOT EXISTS dgc_signals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    agent_address TEXT NOT NULL,
    signal_timestamp TEXT NOT NULL,
    task_id TEXT,
    task_type TEXT,
    artifact_id TEXT,
    source_alias TEXT,
    gate_scores TEXT NOT NULL,
    collapse_dimensions TEXT NOT NULL,
    mission_relevance REAL,
    metadata TEXT NOT NULL,
    signature TEXT,
    payload_hash TEXT NOT NULL,
    audit_hash TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dgc_agent_id ON dgc_signals(agent_address, id DESC);
CREATE INDEX IF NOT EXISTS idx_dgc_task ON dgc_signals(task_id, task_type);

-- Trust gradients (1:1 with signals; only adjustment fields are mutable)
CREATE TABLE IF NOT EXISTS trust_gradients (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signal_event_id TEXT NOT NULL UNIQUE,
    dgc_signal_id INTEGER NOT NULL,
    agent_address TEXT NOT NULL,
    task_id TEXT,
    task_type TEXT,
    artifact_id TEXT,
    base_trust_score REAL NOT NULL,
    trust_adjustment REAL NOT NULL DEFAULT 0,
    trust_score REAL NOT NULL,
    low_trust_flag INTEGER NOT NULL,
    gate_component REAL NOT NULL,
    mission_component REAL NOT NULL,
    collapse_component REAL NOT NULL,
    self_alignment_component REAL NOT NULL,
    affinity_match_component REAL NOT NULL,
    anti_gaming_flags TEXT NOT NULL,
    weak_gates TEXT NOT NULL,
    strong_gates TEXT NOT NULL,
    high_collapse TEXT NOT NULL,
    likely_causes TEXT NOT NULL,
    diagnostic TEXT NOT NULL,
    reviewer TEXT,
    adjust_reason TEXT,
    adjusted_at DATETIME,
    audit_hash TEXT,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (dgc_signal_id) REFERENCES dgc_signals(id)
);

CREATE INDEX IF NOT EXISTS idx_trust_agent_id ON trust_gradients(agent_address, id DESC);
CREATE INDEX IF NOT EXISTS idx_trust_score ON trust_gradients(trust_score DESC);

-- Outcome witnesses (append-only; many per event)
CREATE TABLE IF NOT EXISTS outcome_witnesses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL,
    recorded_by TEXT NOT NULL,
    outcome_type TEXT NOT NULL CHECK(outcome_type IN ('tests', 'smoke', 'human_acceptance', 'user_feedback')),
    status TEXT NOT NULL CHECK(status IN ('pass', 'fail')),
    evidence TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (event_id) REFERENCES dgc_signals(event_id)
);

CREATE INDEX IF NOT EXISTS idx_outcome_event ON outcome_witnesses(event_id);

-- Policy versions (append-only; current policy is the highest version)
CREATE TABLE IF NOT EXISTS policy_versions (
    version INTEGER PRIMARY KEY,
    replay_penalty REAL NOT NULL,
    cross_agent_replay_penalty REAL NOT NULL,
    collusion_penalty REAL NOT NULL,
    outcome_pass_bonus REAL NOT NULL,
    outcome_fail_penalty REAL NOT NULL,
    human_acceptance_bonus REAL NOT NULL,
    max_adjustment_abs REAL NOT NULL,
    updated_by TEXT,
    reason TEXT,
    created_at DATETIME NOT NULL
);

-- Darwin tuning runs (append-only)
CREATE TABLE IF NOT EXISTS darwin_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    dry_run INTEGER NOT NULL,
    baseline_policy TEXT NOT NULL,
    candidate_policy TEXT NOT NULL,
    baseline_objective REAL NOT NULL,
    candidate_objective REAL NOT NULL,
    false_positive_rate REAL NOT NULL,
    accepted INTEGER NOT NULL,
    validation_result TEXT NOT NULL,
    notes TEXT,
    created_at DATETIME NOT NULL
);

-- Witness chain (hash-linked audit log; ids are assigned by the appender
-- under its serialization mutex, the PRIMARY KEY backstops lost races)
CREATE TABLE IF NOT EXISTS witness_chain (
    id INTEGER PRIMARY KEY,
    timestamp TEXT NOT NULL,
    action TEXT NOT NULL,
    actor TEXT NOT NULL,
    subject TEXT,
    meta TEXT NOT NULL,
    prev_hash TEXT NOT NULL,
    hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_witness_subject ON witness_chain(subject);
CREATE INDEX IF NOT EXISTS idx_witness_action ON witness_chain(action);
`
