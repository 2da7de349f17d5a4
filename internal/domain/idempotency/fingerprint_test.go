package idempotency

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintIgnoresKeyOrderAndWhitespace(t *testing.T) {
	var a, b any
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u1","items":[{"book_id":"b1","qty":2}]}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{
		"items": [ {"qty": 2, "book_id": "b1"} ],
		"user_id": "u1"
	}`), &b))

	fpA, err := Fingerprint(a)
	require.NoError(t, err)
	fpB, err := Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fpA, fpB)
}

func TestFingerprintDetectsValueChanges(t *testing.T) {
	base := map[string]any{"user_id": "u1", "qty": 2}
	changed := map[string]any{"user_id": "u1", "qty": 3}

	fpBase, err := Fingerprint(base)
	require.NoError(t, err)
	fpChanged, err := Fingerprint(changed)
	require.NoError(t, err)

	assert.NotEqual(t, fpBase, fpChanged)
	assert.Len(t, fpBase, 64)
}

func TestFingerprintStructAndMapAgree(t *testing.T) {
	type payload struct {
		UserID string `json:"user_id"`
		Qty    int    `json:"qty"`
	}

	fromStruct, err := Fingerprint(payload{UserID: "u1", Qty: 2})
	require.NoError(t, err)
	fromMap, err := Fingerprint(map[string]any{"qty": 2, "user_id": "u1"})
	require.NoError(t, err)

	assert.Equal(t, fromStruct, fromMap)
}
