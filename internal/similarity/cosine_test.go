package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine_DegenerateInputs(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, nil))
	assert.Equal(t, 0.0, Cosine(nil, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, nil))
	assert.Equal(t, 0.0, Cosine([]float32{}, []float32{}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{0, 0}))
}

func TestCosine_KnownValues(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2, 3}, []float32{2, 4, 6}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)
}

func TestCosine_Symmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2, 0.9}
	b := []float32{-0.1, 0.4, 0.8, 0.5}
	assert.InDelta(t, Cosine(a, b), Cosine(b, a), 1e-12)
}

func TestCosine_Bounded(t *testing.T) {
	a := []float32{3, -5, 7, 11}
	b := []float32{-13, 17, -19, 23}
	got := Cosine(a, b)
	assert.GreaterOrEqual(t, got, -1.0)
	assert.LessOrEqual(t, got, 1.0)
}
