package service

import (
	"fmt"
	"strings"

	"github.com/sab-lab/convergence/internal/codec"
	"github.com/sab-lab/convergence/internal/types"
)

// validateScoreMap checks every value in a gate/collapse map against [0,1]
func validateScoreMap(field string, scores map[string]float64) error {
	for name, value := range scores {
		if name == "" {
			return &types.ValidationError{Field: field, Reason: "empty score name"}
		}
		if value < 0 || value > 1 {
			return &types.ValidationError{
				Field:  field,
				Reason: fmt.Sprintf("score %q = %.4f outside [0,1]", name, value),
			}
		}
	}
	return nil
}

// validateMetadata bounds a metadata map by item count and canonical size
func validateMetadata(field string, metadata map[string]any) error {
	if len(metadata) > types.MaxMetadataItems {
		return &types.ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("%d items exceeds limit of %d", len(metadata), types.MaxMetadataItems),
		}
	}
	if len(metadata) == 0 {
		return nil
	}
	serialized, err := codec.Canonicalize(metadata)
	if err != nil {
		return err
	}
	if len(serialized) > types.MaxMetadataBytes {
		return &types.ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("serialized size %d exceeds limit of %d bytes", len(serialized), types.MaxMetadataBytes),
		}
	}
	return nil
}

// normalizeAffinity lowercases, trims, and deduplicates a task affinity list
// preserving first-seen order
func normalizeAffinity(affinity []string) ([]string, error) {
	if len(affinity) > types.MaxTaskAffinityEntries {
		return nil, &types.ValidationError{
			Field:  "task_affinity",
			Reason: fmt.Sprintf("%d entries exceeds limit of %d", len(affinity), types.MaxTaskAffinityEntries),
		}
	}
	seen := make(map[string]bool, len(affinity))
	out := make([]string, 0, len(affinity))
	for _, entry := range affinity {
		normalized := strings.ToLower(strings.TrimSpace(entry))
		if normalized == "" || seen[normalized] {
			continue
		}
		if len(normalized) > types.MaxTaskAffinityEntryLen {
			return nil, &types.ValidationError{
				Field:  "task_affinity",
				Reason: fmt.Sprintf("entry %q exceeds %d chars", normalized[:40], types.MaxTaskAffinityEntryLen),
			}
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out, nil
}
