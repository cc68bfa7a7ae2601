package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_Stable(t *testing.T) {
	a, err := Digest(DomainTrace, Object{"b": Int(1), "a": Int(2)})
	require.NoError(t, err)
	b, err := Digest(DomainTrace, Object{"a": Int(2), "b": Int(1)})
	require.NoError(t, err)

	assert.Equal(t, a, b, "key order must not affect the digest")
	assert.Len(t, a, 64)
}

func TestDigest_DomainSeparation(t *testing.T) {
	v := Object{"a": Int(1)}
	trace, err := Digest(DomainTrace, v)
	require.NoError(t, err)
	def, err := Digest(DomainDefinition, v)
	require.NoError(t, err)

	assert.NotEqual(t, trace, def)
}

func TestDigest_PropagatesMarshalError(t *testing.T) {
	_, err := Digest(DomainTrace, 0.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), DomainTrace)
}
