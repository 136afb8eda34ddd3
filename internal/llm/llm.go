// Package llm defines the inference functions the rest of the system consumes:
// embed(text) -> vector and generate(context, prompt) -> text.
package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrEmptyResponse is returned when a provider answers with no usable text.
var ErrEmptyResponse = errors.New("llm returned an empty response")

// Embedder maps text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Role of a history turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// Turn is one prior message in the conversation.
type Turn struct {
	Role    Role
	Content string
}

// GenerateInput is everything a generation call conditions on.
type GenerateInput struct {
	System  string
	Context []string
	History []Turn
	Prompt  string
}

// Generator produces a reply for the assembled input.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// DefaultSystemPrompt instructs the model to stay grounded in the document.
const DefaultSystemPrompt = "You are a helpful assistant answering questions about a single uploaded document. " +
	"Use the provided document excerpts and the conversation so far. " +
	"If the excerpts do not contain the answer, say that you don't know rather than guessing."

// UserMessage renders the retrieved excerpts and the question into the final
// user turn sent to a chat model.
func UserMessage(in GenerateInput) string {
	if len(in.Context) == 0 {
		return in.Prompt
	}
	var b strings.Builder
	b.WriteString("Document excerpts:\n")
	for i, c := range in.Context {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString(strings.TrimSpace(c))
	}
	b.WriteString("\n\nQuestion: ")
	b.WriteString(in.Prompt)
	return b.String()
}

// SystemPrompt returns in.System or the default.
func SystemPrompt(in GenerateInput) string {
	if strings.TrimSpace(in.System) != "" {
		return in.System
	}
	return DefaultSystemPrompt
}
