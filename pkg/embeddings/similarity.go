package embeddings

import "math"

// CosineSimilarity returns the cosine similarity of a and b.
// Vectors of different length, empty vectors and zero vectors compare as 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	normA, normB := Norm(a), Norm(b)
	if normA == 0 || normB == 0 {
		return 0
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}

	return dot / (normA * normB)
}

// SimilarityFromDistance converts a cosine distance to a similarity clamped to [0, 1].
func SimilarityFromDistance(distance float64) float64 {
	return Clamp01(1 - distance)
}

// Clamp01 bounds v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Mean returns the element-wise mean of vectors. Vectors whose length differs from
// the first one are skipped. Returns nil when no vector qualifies.
func Mean(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil
	}

	sum := make([]float64, dim)
	n := 0

	for _, v := range vectors {
		if len(v) != dim {
			continue
		}

		for i, x := range v {
			sum[i] += float64(x)
		}
		n++
	}

	out := make([]float32, dim)
	for i := range sum {
		out[i] = float32(sum[i] / float64(n))
	}

	return out
}
