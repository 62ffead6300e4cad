package embedding

import (
	"context"
	"math"
	"strings"
	"unicode"
)

// localDimension is the fixed vector size of the local embedder. 384 matches
// the small sentence-embedding models commonly served for this workload.
const localDimension = 384

// LocalEmbedder is a deterministic, dependency-free embedder for mock mode
// and tests. It hashes character trigrams of the cleaned text into a fixed
// number of buckets and L2-normalizes the counts, so texts differing only in
// case, punctuation, or spacing land on (nearly) identical vectors while
// unrelated texts stay far apart.
type LocalEmbedder struct{}

func NewLocalEmbedder() *LocalEmbedder {
	return &LocalEmbedder{}
}

func (e *LocalEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vector := make([]float32, localDimension)

	runes := cleanForEmbedding(text)
	switch {
	case len(runes) == 0:
		// Nothing to hash; the zero vector scores 0 against everything.
		return vector, nil
	case len(runes) < 3:
		vector[bucketFor(runes)]++
	default:
		for i := 0; i+3 <= len(runes); i++ {
			vector[bucketFor(runes[i:i+3])]++
		}
	}

	var norm float64
	for _, value := range vector {
		norm += float64(value * value)
	}
	norm = math.Sqrt(norm)
	for i := range vector {
		vector[i] = float32(float64(vector[i]) / norm)
	}

	return vector, nil
}

// cleanForEmbedding lowercases the text and collapses every run of
// non-alphanumeric characters into a single space.
func cleanForEmbedding(text string) []rune {
	var builder strings.Builder
	lastWasSpace := true

	for _, char := range strings.ToLower(text) {
		if unicode.IsLetter(char) || unicode.IsDigit(char) {
			builder.WriteRune(char)
			lastWasSpace = false
			continue
		}
		if !lastWasSpace {
			builder.WriteRune(' ')
			lastWasSpace = true
		}
	}

	return []rune(strings.TrimSpace(builder.String()))
}

func bucketFor(gram []rune) int {
	hash := 0
	for _, char := range gram {
		hash = hash*31 + int(char)
	}
	bucket := hash % localDimension
	if bucket < 0 {
		bucket += localDimension
	}
	return bucket
}
