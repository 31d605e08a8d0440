package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLenientMap(t *testing.T) {
	m := lenientMap(`{"a": 1, "b": "x"}`)
	assert.Equal(t, float64(1), m["a"])
	assert.Equal(t, "x", m["b"])

	// Malformed payloads decode to an empty map instead of failing the read.
	assert.NotNil(t, lenientMap(`{"a": `))
	assert.Empty(t, lenientMap(`{"a": `))
	assert.Empty(t, lenientMap(""))
	assert.Empty(t, lenientMap("null"))
}

func TestLenientStrings(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, lenientStrings(`["read","write"]`))
	assert.Empty(t, lenientStrings("not json"))
	assert.Empty(t, lenientStrings(""))
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, mustJSON(map[string]any{"a": 1}))
	assert.Equal(t, `null`, mustJSON(nil))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: projects.name")))
	assert.False(t, isUniqueViolation(errors.New("no such table: projects")))
	assert.False(t, isUniqueViolation(nil))
}
