package types

import (
	"errors"
	"fmt"
)

// ConflictReason explains why an event_id resubmission was rejected
type ConflictReason string

const (
	// ConflictAgentMismatch indicates the event_id was reused by a different agent
	ConflictAgentMismatch ConflictReason = "agent_mismatch"
	// ConflictPayloadMismatch indicates the event_id was reused with a semantically different payload
	ConflictPayloadMismatch ConflictReason = "payload_mismatch"
	// ConflictUnresolvable indicates the stored row could not be re-read after an insert race
	ConflictUnresolvable ConflictReason = "unresolvable"
)

// ValidationError indicates malformed or out-of-range input.
// The caller can recover by resubmitting corrected input; nothing was written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// EventConflictError indicates an event_id was reused with mismatched content.
// The original record is never overwritten.
type EventConflictError struct {
	EventID string
	Reason  ConflictReason
}

func (e *EventConflictError) Error() string {
	return fmt.Sprintf("event conflict for %s: %s", e.EventID, e.Reason)
}

// NotFoundError indicates an operation referenced an unknown record
type NotFoundError struct {
	Kind string // e.g. "signal", "trust_gradient", "agent_identity"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// SerializationError indicates a value could not be canonicalized.
// Fatal to the call that produced it only.
type SerializationError struct {
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("canonical serialization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("canonical serialization failed: %s", e.Reason)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// ChainIntegrityError indicates witness chain verification detected a
// hash or prev_hash mismatch. Surfaced as a structural finding, never auto-repaired.
type ChainIntegrityError struct {
	Index    int   // position in the verified sequence
	RecordID int64 // witness record id, if known
	Reason   string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("witness chain integrity violation at index %d (record %d): %s", e.Index, e.RecordID, e.Reason)
}

// ConfigurationError indicates a required security setting is missing.
// The affected endpoint fails closed rather than silently downgrading.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Setting, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is (or wraps) an EventConflictError
func IsConflict(err error) bool {
	var ce *EventConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is (or wraps) a NotFoundError
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}
