// Package local provides offline stand-ins for the inference service so the
// whole pipeline runs in dev and tests without network access.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"docchat-backend/internal/llm"
)

// DefaultDimensions is the vector size HashEmbedder produces by default.
const DefaultDimensions = 256

const maxSnippet = 600

// HashEmbedder maps each word to a signed bucket (feature hashing) and
// L2-normalizes the result, so texts sharing words score higher under cosine.
type HashEmbedder struct {
	Dimensions int
}

// NewHashEmbedder returns an embedder producing dims-sized vectors.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{Dimensions: dims}
}

// Embed is deterministic for a given text and dimension.
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.Dimensions)
	for _, word := range words(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(word))
		sum := h.Sum64()
		idx := int(sum % uint64(e.Dimensions))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// ExtractiveGenerator answers with the most relevant retrieved excerpt.
type ExtractiveGenerator struct{}

// Generate quotes the first excerpt, trimmed to a readable length.
func (ExtractiveGenerator) Generate(ctx context.Context, in llm.GenerateInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(in.Context) == 0 {
		return "I couldn't find anything in this document related to your question.", nil
	}
	snippet := strings.Join(strings.Fields(in.Context[0]), " ")
	if r := []rune(snippet); len(r) > maxSnippet {
		snippet = string(r[:maxSnippet]) + "..."
	}
	return "From the document: " + snippet, nil
}

var (
	_ llm.Embedder  = (*HashEmbedder)(nil)
	_ llm.Generator = ExtractiveGenerator{}
)
