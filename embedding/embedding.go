// Package embedding turns prompt text into vectors for the semantic cache.
package embedding

import (
	"context"
	"math"
)

// Embedder is the capability the semantic cache uses to vectorize prompts.
// A process uses one fixed embedder; mixing embedders silently invalidates
// every stored vector, so the choice is made once at startup.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cosine computes the cosine similarity of two vectors. Mismatched lengths
// and zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
