package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/llm"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedderDeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "The quarterly summary of revenue")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the QUARTERLY summary of revenue!")
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a, a), 1e-6)
}

func TestHashEmbedderRanksOverlapHigher(t *testing.T) {
	e := NewHashEmbedder(DefaultDimensions)
	ctx := context.Background()
	q, _ := e.Embed(ctx, "what is the revenue summary")
	near, _ := e.Embed(ctx, "revenue summary for the year")
	far, _ := e.Embed(ctx, "penguins live in antarctica")

	assert.Greater(t, cosine(q, near), cosine(q, far))
}

func TestExtractiveGenerator(t *testing.T) {
	g := ExtractiveGenerator{}
	reply, err := g.Generate(context.Background(), llm.GenerateInput{Prompt: "q", Context: []string{"  Revenue   grew\n10%.  "}})
	require.NoError(t, err)
	assert.Equal(t, "From the document: Revenue grew 10%.", reply)

	reply, err = g.Generate(context.Background(), llm.GenerateInput{Prompt: "q"})
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}
