package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sab-lab/convergence/internal/types"
)

// TestCanonicalizeKeyOrderIndependence verifies two logically equal maps
// built in different insertion orders canonicalize to identical bytes
func TestCanonicalizeKeyOrderIndependence(t *testing.T) {
	a := map[string]any{}
	a["satya"] = 0.91
	a["substance"] = 0.87
	a["coherence"] = 0.5

	b := map[string]any{}
	b["coherence"] = 0.5
	b["substance"] = 0.87
	b["satya"] = 0.91

	bytesA, err := Canonicalize(a)
	require.NoError(t, err)
	bytesB, err := Canonicalize(b)
	require.NoError(t, err)
	assert.Equal(t, bytesA, bytesB)
}

func TestCanonicalizeFixedSeparators(t *testing.T) {
	data, err := Canonicalize(map[string]any{"b": []any{1, "x"}, "a": true})
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":[1,"x"]}`, string(data))
}

func TestCanonicalizeNestedStructs(t *testing.T) {
	type inner struct {
		Name  string  `json:"name"`
		Score float64 `json:"score"`
	}
	first, err := Canonicalize(struct {
		Items []inner `json:"items"`
		Tag   string  `json:"tag"`
	}{Items: []inner{{Name: "satya", Score: 0.91}}, Tag: "dgc.v1"})
	require.NoError(t, err)

	second, err := Canonicalize(map[string]any{
		"tag":   "dgc.v1",
		"items": []any{map[string]any{"score": 0.91, "name": "satya"}},
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestHashStableAcrossCalls(t *testing.T) {
	payload := map[string]any{
		"task_type":   "evaluation",
		"gate_scores": map[string]float64{"satya": 0.91, "substance": 0.87},
	}
	h1, err := Hash(payload)
	require.NoError(t, err)
	h2, err := Hash(payload)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestHashDiffersForDifferentValues(t *testing.T) {
	h1, err := Hash(map[string]any{"a": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

// TestCanonicalizeRejectsUnserializable verifies a non-serializable value
// fails with a SerializationError rather than panicking
func TestCanonicalizeRejectsUnserializable(t *testing.T) {
	_, err := Canonicalize(map[string]any{"fn": func() {}})
	require.Error(t, err)
	var se *types.SerializationError
	assert.ErrorAs(t, err, &se)
}
