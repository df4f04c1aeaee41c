// Package storage defines the persistence interface for the convergence
// subsystem. Two backends implement it: sqlite (default) and postgres.
//
// Every table is append-only. The only mutable columns are the adjustment
// fields on trust_gradients and the audit_hash columns, which are set once
// after the witness chain records the originating action. Cross-row
// invariants (event_id uniqueness, witness chain linkage) are enforced with
// database-level uniqueness constraints plus read-reconcile retry loops in
// the callers, not application locks.
package storage

import (
	"context"

	"github.com/sab-lab/convergence/internal/types"
)

// Storage is the interface all convergence backends implement
type Storage interface {
	// Identities (append-only; latest row per agent is the effective identity)
	StoreIdentity(ctx context.Context, identity *types.Identity) (*types.Identity, error)
	LatestIdentity(ctx context.Context, agentAddress string) (*types.Identity, error)
	LatestIdentities(ctx context.Context) (map[string]*types.Identity, error)

	// Signals (write-once per event_id)
	// InsertSignalIfAbsent reports false without error when another writer
	// already holds the event_id; callers re-read and reconcile.
	InsertSignalIfAbsent(ctx context.Context, signal *types.Signal) (bool, error)
	GetSignalByEventID(ctx context.Context, eventID string) (*types.Signal, error)
	RecentSignals(ctx context.Context, limit int) ([]*types.Signal, error)

	// Trust gradients (1:1 with signals by event_id)
	InsertGradientIfAbsent(ctx context.Context, gradient *types.TrustGradient) (bool, error)
	GetGradientByEventID(ctx context.Context, eventID string) (*types.TrustGradient, error)
	UpdateGradientAdjustment(ctx context.Context, eventID string, update *types.AdjustmentUpdate) error
	TrustHistory(ctx context.Context, agentAddress string, limit int) ([]*types.TrustGradient, error)
	RecentGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error)
	LatestGradients(ctx context.Context, limit int) ([]*types.TrustGradient, error)
	LatestGradientsForAgents(ctx context.Context, agentAddresses []string) (map[string]*types.TrustGradient, error)
	ScoredEvents(ctx context.Context, limit int) ([]*types.ScoredEvent, error)
	AttachAuditHash(ctx context.Context, eventID, auditHash string) error

	// Outcomes (append-only, many per event)
	AppendOutcome(ctx context.Context, outcome *types.Outcome) (*types.Outcome, error)
	OutcomesForEvent(ctx context.Context, eventID string) ([]*types.Outcome, error)

	// Policy versions (append-only; current policy is the latest row)
	CurrentPolicy(ctx context.Context) (*types.Policy, error)
	AppendPolicy(ctx context.Context, policy *types.Policy) (*types.Policy, error)

	// Darwin runs (append-only tuning log)
	AppendDarwinRun(ctx context.Context, run *types.DarwinRun) (*types.DarwinRun, error)
	ListDarwinRuns(ctx context.Context, limit int) ([]*types.DarwinRun, error)

	// Witness chain. AppendWitnessRecord inserts a fully formed record with
	// an explicit id; the unique id constraint backstops the caller's
	// serialization so a lost race surfaces as an insert error, never a fork.
	LastWitnessRecord(ctx context.Context) (*types.WitnessRecord, error)
	AppendWitnessRecord(ctx context.Context, record *types.WitnessRecord) (*types.WitnessRecord, error)
	ListWitnessRecords(ctx context.Context, subject string, limit, offset int) ([]*types.WitnessRecord, error)
	// AllWitnessRecords returns the entire chain oldest-first from a single
	// statement, so concurrent appends cannot shift rows between reads the way
	// offset pagination over a live table would.
	AllWitnessRecords(ctx context.Context) ([]*types.WitnessRecord, error)

	Close() error
}
