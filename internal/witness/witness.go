// Package witness implements the append-only hash-chained audit log.
// Every mutating action in the system is recorded here; each record links to
// the hash of its predecessor so any tampering invalidates the suffix.
package witness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sab-lab/convergence/internal/codec"
	"github.com/sab-lab/convergence/internal/storage"
	"github.com/sab-lab/convergence/internal/types"
)

// Chain appends and verifies witness records.
//
// Append holds a single mutex across the read-last-record/insert sequence.
// Unlike signal ingestion there is no idempotency key to reconcile against
// after a lost race, so the interleaving must be structurally prevented. The
// explicit-id primary key in storage backstops the mutex: if two appenders
// ever did interleave, the second insert fails instead of forking the chain.
type Chain struct {
	store  storage.Storage
	logger *zap.Logger
	mu     sync.Mutex
}

// NewChain creates a chain over the given storage backend
func NewChain(store storage.Storage, logger *zap.Logger) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{store: store, logger: logger}
}

// Append records one action in the chain. I/O failure propagates to the
// caller as a fatal error; the witness log is the accountability mechanism
// and never silently drops data.
func (c *Chain) Append(ctx context.Context, actor, action, subject string, meta map[string]any) (*types.WitnessRecord, error) {
	if action == "" {
		return nil, &types.ValidationError{Field: "action", Reason: "required"}
	}
	if actor == "" {
		return nil, &types.ValidationError{Field: "actor", Reason: "required"}
	}
	if meta == nil {
		meta = map[string]any{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, err := c.store.LastWitnessRecord(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain head: %w", err)
	}

	record := &types.WitnessRecord{
		ID:        1,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		Actor:     actor,
		Subject:   subject,
		Meta:      meta,
		PrevHash:  "",
	}
	if last != nil {
		record.ID = last.ID + 1
		record.PrevHash = last.Hash
	}

	hash, err := codec.Hash(hashPayload(record))
	if err != nil {
		return nil, err
	}
	record.Hash = hash

	if _, err := c.store.AppendWitnessRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to append witness record: %w", err)
	}

	c.logger.Debug("witness record appended",
		zap.Int64("id", record.ID),
		zap.String("action", action),
		zap.String("subject", subject))
	return record, nil
}

// List returns records most-recent-first, optionally filtered by subject
func (c *Chain) List(ctx context.Context, subject string, limit, offset int) ([]*types.WitnessRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return c.store.ListWitnessRecords(ctx, subject, limit, offset)
}

// Verify walks records in chronological order, checking the prev_hash
// linkage and recomputing every record's hash from its own payload. The
// returned ChainIntegrityError identifies the first corrupted record; the
// whole suffix from that point is invalid. Corruption is detected here, at
// verification time, never auto-repaired.
func Verify(records []*types.WitnessRecord) error {
	for i, record := range records {
		if i == 0 {
			// The genesis record carries the empty-string sentinel. A
			// verification window starting mid-chain cannot check its first
			// record's linkage.
			if record.ID == 1 && record.PrevHash != "" {
				return &types.ChainIntegrityError{Index: 0, RecordID: record.ID, Reason: "genesis record has non-empty prev_hash"}
			}
		} else {
			if record.PrevHash != records[i-1].Hash {
				return &types.ChainIntegrityError{Index: i, RecordID: record.ID, Reason: "prev_hash does not match predecessor hash"}
			}
		}

		expected, err := codec.Hash(hashPayload(record))
		if err != nil {
			return err
		}
		if record.Hash != expected {
			return &types.ChainIntegrityError{Index: i, RecordID: record.ID, Reason: "stored hash does not match recomputed payload hash"}
		}
	}
	return nil
}

// VerifyAll loads the full chain oldest-first and verifies it. The load is a
// single statement: offset pagination over the live table would let a
// concurrent append shift rows between page reads and make an untampered
// chain look forked.
func (c *Chain) VerifyAll(ctx context.Context) (int, error) {
	all, err := c.store.AllWitnessRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load witness records: %w", err)
	}
	return len(all), Verify(all)
}

// hashPayload is the canonical hash input: every field except the hash itself
func hashPayload(record *types.WitnessRecord) map[string]any {
	return map[string]any{
		"id":        record.ID,
		"timestamp": record.Timestamp,
		"action":    record.Action,
		"actor":     record.Actor,
		"subject":   record.Subject,
		"meta":      record.Meta,
		"prev_hash": record.PrevHash,
	}
}
