package postgres

import (
	"context"
	"fmt"

	"github.com/sab-lab/convergence/internal/types"
)

const witnessColumns = `id, timestamp, action, actor, COALESCE(subject, ''), meta::text, prev_hash, hash`

// LastWitnessRecord returns the most recent chain record, or nil for an
// empty log
func (s *PostgresStorage) LastWitnessRecord(ctx context.Context) (*types.WitnessRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+witnessColumns+`
		FROM witness_chain
		ORDER BY id DESC
		LIMIT 1`)

	record, err := scanWitness(row)
	if isNoRows(err) {
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
func (s *PostgresStorage) AppendWitnessRecord(ctx context.Context, record *types.WitnessRecord) (*types.WitnessRecord, error) {
	metaJSON, err := marshalJSON(record.Meta)
	if err != nil {
		return nil, err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO witness_chain (id, timestamp, action, actor, subject, meta, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
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
func (s *PostgresStorage) ListWitnessRecords(ctx context.Context, subject string, limit, offset int) ([]*types.WitnessRecord, error) {
	query := `SELECT ` + witnessColumns + ` FROM witness_chain`
	args := []any{}
	if subject != "" {
		query += " WHERE subject = $1"
		args = append(args, subject)
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, query, args...)
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
func (s *PostgresStorage) AllWitnessRecords(ctx context.Context) ([]*types.WitnessRecord, error) {
	rows, err := s.pool.Query(ctx, `
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
