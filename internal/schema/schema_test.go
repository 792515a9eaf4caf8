package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addressSchema() *Type {
	return Object(map[string]*Type{
		"name": String(),
		"address": Object(map[string]*Type{
			"city": String(),
			"zip":  Optional(String()),
		}, []string{"city", "zip"}),
		"active": Bool(),
		"tags":   Array(String()),
	}, []string{"name", "address", "active", "tags"})
}

func TestResolveNested(t *testing.T) {
	s := addressSchema()
	ty, err := Resolve(s, "address.city")
	require.NoError(t, err)
	assert.Equal(t, KindString, ty.Kind)
}

func TestResolveMissing(t *testing.T) {
	s := addressSchema()
	_, err := Resolve(s, "address.country")
	assert.Error(t, err)
}

func TestResolveThroughOptional(t *testing.T) {
	s := addressSchema()
	ty, err := Resolve(s, "address.zip")
	require.NoError(t, err)
	assert.Equal(t, KindString, Unwrap(ty).Kind)
}

func TestRootFieldNames(t *testing.T) {
	names, err := RootFieldNames(addressSchema())
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "address", "active", "tags"}, names)
}

func TestIsBoolean(t *testing.T) {
	s := addressSchema()
	ty, err := Resolve(s, "active")
	require.NoError(t, err)
	assert.True(t, IsBoolean(ty))

	ty2, err := Resolve(s, "name")
	require.NoError(t, err)
	assert.False(t, IsBoolean(ty2))
}

func TestValidate(t *testing.T) {
	s := addressSchema()
	doc := map[string]any{
		"name": "ada",
		"address": map[string]any{
			"city": "london",
		},
		"active": true,
		"tags":   []any{"a", "b"},
	}
	assert.NoError(t, Validate(s, doc))

	bad := map[string]any{
		"name":    "ada",
		"address": map[string]any{"city": "london"},
		"active":  "not-a-bool",
		"tags":    []any{},
	}
	assert.Error(t, Validate(s, bad))
}

func TestValidateMissingRequired(t *testing.T) {
	s := addressSchema()
	doc := map[string]any{
		"address": map[string]any{"city": "london"},
		"active":  true,
		"tags":    []any{},
	}
	assert.Error(t, Validate(s, doc))
}
