// Package hash provides an offline embedder based on feature hashing.
//
// Each token of the input is hashed into one of Dimensions buckets with a
// hash-derived sign, and the result is normalized to unit length. Texts that
// share tokens get a positive cosine similarity, identical token bags get 1.
// It needs no model files, so it is the default embedder for both stores.
package hash

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultDimensions is the embedding size used when none is configured.
const DefaultDimensions = 256

// Embedder is a deterministic feature-hashing embedder.
type Embedder struct {
	dimensions int
}

// New creates an embedder producing vectors of the given size.
// Non-positive sizes fall back to DefaultDimensions.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a unit-length embedding from text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	embedding := make([]float32, e.dimensions)
	for _, token := range Tokens(text) {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dimensions))
		if sum>>63 == 1 {
			embedding[idx]--
		} else {
			embedding[idx]++
		}
	}

	return normalize(embedding), nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Tokens splits text into lowercase tokens. Hyphens and underscores stay
// inside tokens so identifiers like pool-42 hash as one feature.
func Tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
}

// normalize converts embedding to unit vector.
// A zero vector (no tokens) maps to the first basis vector so downstream
// cosine math never divides by zero.
func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}

	if norm == 0 {
		vec[0] = 1
		return vec
	}

	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}

	return vec
}
