package jsonval

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheParseAndClone(t *testing.T) {
	c := NewCache(4)
	text := `{"a":1}`

	v1, err := c.Parse(text)
	require.NoError(t, err)
	m1 := v1.(map[string]any)
	m1["a"] = float64(999)

	v2, err := c.Parse(text)
	require.NoError(t, err)
	m2 := v2.(map[string]any)
	assert.Equal(t, float64(1), m2["a"], "mutating one parse result must not affect a later parse")
}

func TestCacheEviction(t *testing.T) {
	c := NewCache(2)
	for i := 0; i < 5; i++ {
		_, err := c.Parse(fmt.Sprintf(`{"i":%d}`, i))
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, c.Len(), 2)
}

func TestCacheClear(t *testing.T) {
	c := NewCache(4)
	_, err := c.Parse(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}
