// Package rag answers a prompt about one document: it retrieves the most
// similar chunks, adds recent conversation turns, generates a reply and
// appends the exchange to the conversation.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

const (
	DefaultTopK          = 4
	DefaultContextBudget = 12000
	DefaultHistoryTurns  = 10
)

// Request is one generate-response action.
type Request struct {
	DocumentID     string
	ConversationID string
	UserID         string
	Prompt         string
}

// Reply is the appended ai message and the conversation it belongs to.
type Reply struct {
	ConversationID string
	// Created reports that the conversation was created for this request.
	Created bool
	Message conversations.Message
}

// Engine runs retrieval-augmented generation against one document.
type Engine struct {
	Documents     documents.Repo
	Conversations *conversations.Service
	Chunks        retrieval.Store
	Embedder      llm.Embedder
	Generator     llm.Generator

	TopK            int
	ContextBudget   int
	HistoryTurns    int
	SystemPrompt    string
	Model           string
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
	Retry           faults.Budget
}

// Respond answers req.Prompt. The human and ai messages are appended in
// one update only after generation succeeds, so a failure leaves the
// conversation unchanged apart from a conversation created for it.
func (e *Engine) Respond(ctx context.Context, req Request) (Reply, error) {
	started := time.Now()
	reply, err := e.respond(ctx, req)

	outcome := "ok"
	if err != nil {
		outcome = Code(err)
	}
	metrics.IncResponse(outcome)
	metrics.ObserveResponseSeconds(time.Since(started).Seconds())
	return reply, err
}

func (e *Engine) respond(ctx context.Context, req Request) (Reply, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Reply{}, ErrEmptyPrompt
	}

	doc, err := e.Documents.Get(ctx, req.UserID, req.DocumentID)
	if err != nil {
		return Reply{}, err
	}
	if doc.Status != documents.StatusReady {
		return Reply{}, ErrDocumentNotReady
	}

	conv, created, err := e.Conversations.Resolve(ctx, doc, req.ConversationID)
	if errors.Is(err, documents.ErrNotFound) || errors.Is(err, conversations.ErrNotFound) {
		// The document was deleted after it was loaded.
		return Reply{}, err
	}
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrConversationWrite, err)
	}
	fields := map[string]any{
		"document_id":     doc.ID,
		"conversation_id": conv.ID,
		"user_id":         req.UserID,
	}

	chunks, err := e.retrieve(ctx, doc.ID, prompt)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
	}

	window := Assemble(chunks, conv.Messages, e.historyTurns(), e.contextBudget(), prompt)
	in := llm.GenerateInput{
		System:  e.SystemPrompt,
		Context: window.Context,
		History: window.History,
		Prompt:  prompt,
	}

	var answer string
	err = faults.Retry(ctx, e.Retry, func(ctx context.Context) error {
		return faults.WithTimeout(ctx, e.GenerateTimeout, "rag.generate", func(ctx context.Context) error {
			out, err := e.Generator.Generate(ctx, in)
			answer = out
			return err
		})
	})
	if err == nil && strings.TrimSpace(answer) == "" {
		err = llm.ErrEmptyResponse
	}
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	aiMeta := map[string]string{"sources": joinInts(window.Sources)}
	if e.Model != "" {
		aiMeta["model"] = e.Model
	}
	appended, err := e.Conversations.Repo.Append(ctx, conv.ID,
		conversations.Message{Role: conversations.RoleHuman, Content: prompt},
		conversations.Message{Role: conversations.RoleAI, Content: answer, Metadata: aiMeta},
	)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %w", ErrConversationWrite, err)
	}

	fields["chunks"] = len(window.Context)
	fields["history_turns"] = len(window.History)
	telemetry.Info("rag.response.generated", fields)

	return Reply{ConversationID: conv.ID, Created: created, Message: appended[len(appended)-1]}, nil
}

func (e *Engine) retrieve(ctx context.Context, documentID, prompt string) ([]retrieval.Chunk, error) {
	var query []float32
	err := faults.Retry(ctx, e.Retry, func(ctx context.Context) error {
		return faults.WithTimeout(ctx, e.EmbedTimeout, "rag.embed", func(ctx context.Context) error {
			v, err := e.Embedder.Embed(ctx, prompt)
			query = v
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	var chunks []retrieval.Chunk
	err = faults.Retry(ctx, e.Retry, func(ctx context.Context) error {
		out, err := e.Chunks.TopK(ctx, documentID, query, e.topK())
		chunks = out
		return err
	})
	return chunks, err
}

func (e *Engine) topK() int {
	if e.TopK > 0 {
		return e.TopK
	}
	return DefaultTopK
}

func (e *Engine) contextBudget() int {
	if e.ContextBudget > 0 {
		return e.ContextBudget
	}
	return DefaultContextBudget
}

func (e *Engine) historyTurns() int {
	if e.HistoryTurns > 0 {
		return e.HistoryTurns
	}
	return DefaultHistoryTurns
}

func joinInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
