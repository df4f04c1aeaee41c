// Package codec implements the canonical serialization and hashing used by
// every fingerprint in the system. Canonicalize is a pure function of the
// logical value: map keys are sorted, separators are fixed, and numbers pass
// through json.Number so two logically equal payloads always produce the same
// bytes regardless of construction order.
package codec

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sab-lab/convergence/internal/types"
)

// Canonicalize produces the canonical byte encoding of value.
// Returns a SerializationError for values encoding/json cannot represent.
func Canonicalize(value any) ([]byte, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, &types.SerializationError{Reason: "value is not JSON-serializable", Err: err}
	}

	// Re-decode through json.Number so numeric formatting is stable and
	// map key order from the original value is discarded.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return nil, &types.SerializationError{Reason: "failed to normalize encoded value", Err: err}
	}

	var buf bytes.Buffer
	if err := writeCanonical(&buf, decoded); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Hash returns the hex-encoded SHA-256 of the canonical encoding of value
func Hash(value any) (string, error) {
	data, err := Canonicalize(value)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(val.String())
	case string:
		encoded, err := json.Marshal(val)
		if err != nil {
			return &types.SerializationError{Reason: "failed to encode string", Err: err}
		}
		buf.Write(encoded)
	case []any:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(k)
			if err != nil {
				return &types.SerializationError{Reason: "failed to encode map key", Err: err}
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &types.SerializationError{Reason: fmt.Sprintf("unsupported decoded type %T", v)}
	}
	return nil
}
