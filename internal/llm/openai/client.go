// Package openai implements llm.Embedder and llm.Generator on any
// OpenAI-compatible API through langchaingo.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"

	"docchat-backend/internal/llm"
)

const defaultTemperature = 0.2

// Options configures the client. BaseURL may point at a local
// OpenAI-compatible server, in which case APIKey may be empty.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// Client embeds and generates through one langchaingo OpenAI model.
type Client struct {
	model    llms.Model
	embedder embeddings.Embedder
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for openai")
	}
	token := strings.TrimSpace(opts.APIKey)
	if token == "" {
		if strings.TrimSpace(opts.BaseURL) == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
		token = "none"
	}

	clientOpts := []lcopenai.Option{
		lcopenai.WithToken(token),
		lcopenai.WithModel(opts.Model),
	}
	if opts.EmbeddingModel != "" {
		clientOpts = append(clientOpts, lcopenai.WithEmbeddingModel(opts.EmbeddingModel))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, lcopenai.WithBaseURL(opts.BaseURL))
	}

	model, err := lcopenai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(model, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("openai embedder: %w", err)
	}
	return &Client{model: model, embedder: embedder}, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("openai embed: %w", llm.ErrEmptyResponse)
	}
	return vectors[0], nil
}

// Generate sends system, history and the excerpt-bearing question as chat
// messages and returns the first choice.
func (c *Client) Generate(ctx context.Context, in llm.GenerateInput) (string, error) {
	resp, err := c.model.GenerateContent(ctx, Messages(in), llms.WithTemperature(defaultTemperature))
	if err != nil {
		return "", fmt.Errorf("openai generate: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return "", fmt.Errorf("openai generate: %w", llm.ErrEmptyResponse)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Messages maps the input onto langchaingo chat messages.
func Messages(in llm.GenerateInput) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(in.History)+2)
	out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, llm.SystemPrompt(in)))
	for _, turn := range in.History {
		role := llms.ChatMessageTypeHuman
		if turn.Role == llm.RoleAI {
			role = llms.ChatMessageTypeAI
		}
		out = append(out, llms.TextParts(role, turn.Content))
	}
	out = append(out, llms.TextParts(llms.ChatMessageTypeHuman, llm.UserMessage(in)))
	return out
}

var (
	_ llm.Embedder  = (*Client)(nil)
	_ llm.Generator = (*Client)(nil)
)
