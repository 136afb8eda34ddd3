// Package gemini implements llm.Embedder and llm.Generator on Google's
// Generative Language API.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"docchat-backend/internal/llm"
)

const (
	defaultChatModel      = "gemini-1.5-flash-latest"
	defaultEmbeddingModel = "text-embedding-004"
)

// Client wraps a genai client with fixed chat and embedding models.
type Client struct {
	client         *genai.Client
	chatModel      string
	embeddingModel string
}

// New dials the API with apiKey. Empty model names use the defaults.
func New(ctx context.Context, apiKey, chatModel, embeddingModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	return &Client{client: client, chatModel: chatModel, embeddingModel: embeddingModel}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := c.client.EmbeddingModel(c.embeddingModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: %w", llm.ErrEmptyResponse)
	}
	return res.Embedding.Values, nil
}

// Generate replays history into a chat session and sends the question.
func (c *Client) Generate(ctx context.Context, in llm.GenerateInput) (string, error) {
	model := c.client.GenerativeModel(c.chatModel)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(llm.SystemPrompt(in))}}

	session := model.StartChat()
	session.History = History(in.History)

	resp, err := session.SendMessage(ctx, genai.Text(llm.UserMessage(in)))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := ResponseText(resp)
	if text == "" {
		return "", fmt.Errorf("gemini generate: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}

// History maps turns onto Gemini's user/model roles.
func History(turns []llm.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		role := "user"
		if turn.Role == llm.RoleAI {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(turn.Content)}})
	}
	return out
}

// ResponseText concatenates the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(b.String())
}

var (
	_ llm.Embedder  = (*Client)(nil)
	_ llm.Generator = (*Client)(nil)
)
