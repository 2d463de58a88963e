package catalog

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const embeddingDim = 64

// Embedder turns text into a fixed-size vector. The default is a local
// token-hash embedder; a remote model can be plugged in without
// touching the search path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// hashEmbedder buckets token hashes into a fixed-size vector and
// L2-normalizes it. Deterministic and dependency-free, good enough for
// bag-of-words relevance over a small catalog.
type hashEmbedder struct{}

// NewHashEmbedder returns the default local embedder.
func NewHashEmbedder() Embedder {
	return hashEmbedder{}
}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	for _, token := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New32a()
		h.Write([]byte(token))
		sum := h.Sum32()
		// Sign bit keeps colliding tokens from always reinforcing.
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[(sum>>1)%embeddingDim] += sign
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// cosine returns the cosine similarity of two vectors, 0 when either
// is empty or lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
