package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sab-lab/convergence/internal/types"
)

const witnessColumns = `id, timestamp, action, actor, COALESCE(subject, ''), meta, prev_hash, hash`

// LastWitnessRecord returns the most recent chain record, or nil for an
// empty log
func (s *SQLiteStorage) LastWitnessRecord(ctx context.Context) (*types.WitnessRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+witnessColumns+`
		FROM witness_chain
		ORDER BY id DESC
		LIMIT 1`)

	record, err := scanWitness(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last witness record: %w", err)
	}
	return record, nil
}

// AppendWitnessRecord persists a fully formed chain record. The explicit id
// primary key means a serialization failure in the appender shows up as a
// constraint error here instead of a silent fork.
func (s *SQLiteStorage) AppendWitnessRecord(ctx context.Context, record *types.WitnessRecord) (*types.WitnessRecord, error) {
	metaJSON, err := marshalJSON(record.Meta)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO witness_chain (id, timestamp, action, actor, subject, meta, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Timestamp,
		record.Action,
		record.Actor,
		nullable(record.Subject),
		metaJSON,
		record.PrevHash,
		record.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append witness record %d: %w", record.ID, err)
	}
	return record, nil
}

// ListWitnessRecords returns chain records most-recent-first, optionally
// filtered by subject
func (s *SQLiteStorage) ListWitnessRecords(ctx context.Context, subject string, limit, offset int) ([]*types.WitnessRecord, error) {
	query := `SELECT ` + witnessColumns + ` FROM witness_chain`
	args := []any{}
	if subject != "" {
		query += " WHERE subject = ?"
		args = append(args, subject)
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query witness records: %w", err)
	}
	defer rows.Close()

	var out []*types.WitnessRecord
	for rows.Next() {
		record, err := scanWitness(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan witness row: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

// AllWitnessRecords returns the full chain oldest-first in one statement
func (s *SQLiteStorage) AllWitnessRecords(ctx context.Context) ([]*types.WitnessRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+witnessColumns+`
		FROM witness_chain
		ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query witness chain: %w", err)
	}
	defer rows.Close()

	var out []*types.WitnessRecord
	for rows.Next() {
		record, err := scanWitness(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan witness row: %w", err)
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func scanWitness(row rowScanner) (*types.WitnessRecord, error) {
	var record types.WitnessRecord
	var metaJSON string
	err := row.Scan(
		&record.ID,
		&record.Timestamp,
		&record.Action,
		&record.Actor,
		&record.Subject,
		&metaJSON,
		&record.PrevHash,
		&record.Hash,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalInto(metaJSON, &record.Meta); err != nil {
		return nil, err
	}
	return &record, nil
}
