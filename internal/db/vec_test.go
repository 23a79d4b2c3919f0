package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeVector(t *testing.T) {
	assert.Equal(t, "[]", EncodeVector(nil))
	assert.Equal(t, "[]", EncodeVector([]float32{}))
	assert.Equal(t, "[1,-2,0.5]", EncodeVector([]float32{1, -2, 0.5}))
}

func TestParseVector(t *testing.T) {
	vec, err := ParseVector("[1,-2,0.5]")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 0.5}, vec)

	vec, err = ParseVector(" [ 0.25 , 3 ] ")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.25, 3}, vec)

	vec, err = ParseVector("[]")
	require.NoError(t, err)
	assert.Nil(t, vec)

	vec, err = ParseVector("")
	require.NoError(t, err)
	assert.Nil(t, vec)
}

func TestParseVector_Malformed(t *testing.T) {
	_, err := ParseVector("1,2,3")
	assert.Error(t, err)

	_, err = ParseVector("[1,x]")
	assert.Error(t, err)
}

func TestVector_RoundTrip(t *testing.T) {
	in := []float32{0.123, -4.56, 789, 0}
	out, err := ParseVector(EncodeVector(in))
	require.NoError(t, err)
	require.Len(t, out, len(in))
	for i := range in {
		assert.InDelta(t, in[i], out[i], 1e-5)
	}
}
