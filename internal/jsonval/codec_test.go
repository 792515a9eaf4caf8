package jsonval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := map[string]any{
		"name":  "ada",
		"count": float64(3),
		"tags":  []any{"a", "b"},
	}
	data, err := Encode(doc)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestEncodeDateTag(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := map[string]any{"created": ts}

	data, err := Encode(doc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"__type":"Date"`)
	assert.Contains(t, string(data), `"value":"2026-01-02T03:04:05Z"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	m := decoded.(map[string]any)
	got, ok := m["created"].(time.Time)
	require.True(t, ok, "expected time.Time, got %T", m["created"])
	assert.True(t, ts.Equal(got))
}

func TestCloneIsDeep(t *testing.T) {
	original := map[string]any{"nested": map[string]any{"x": float64(1)}}
	clone := Clone(original).(map[string]any)
	clone["nested"].(map[string]any)["x"] = float64(2)
	assert.Equal(t, float64(1), original["nested"].(map[string]any)["x"])
}

func TestGetSetDeletePath(t *testing.T) {
	doc := `{"a":{"b":1}}`
	assert.Equal(t, int64(1), GetPath(doc, "a.b").Int())

	updated, err := SetPath(doc, "a.c", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", GetPath(updated, "a.c").String())

	deleted, err := DeletePath(updated, "a.b")
	require.NoError(t, err)
	assert.False(t, GetPath(deleted, "a.b").Exists())
}
