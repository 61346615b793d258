// Package embeddings holds the vector math shared by search, duplicate detection and
// category centroids.
package embeddings

import "math"

// Norm returns the Euclidean length of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	return math.Sqrt(sum)
}

// Normalize scales v in place to unit length and returns its original length.
// A zero vector is left as is.
func Normalize(v []float32) float64 {
	n := Norm(v)
	if n == 0 {
		return 0
	}

	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}

	return n
}

// Normalized returns a unit-length copy of v; v is not modified.
func Normalized(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	Normalize(out)

	return out
}
