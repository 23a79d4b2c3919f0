// Package similarity provides the vector similarity primitive used by the
// scoring engine and the SQLite retrieval fallback.
package similarity

import "math"

// Cosine returns the cosine similarity of two embedding vectors, a value in
// [-1, 1]. It returns 0 when either vector is nil or empty, when the lengths
// differ, or when either norm is zero, so callers never divide by zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
