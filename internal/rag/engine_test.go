package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/llm/local"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/faults"
)

type recordingGenerator struct {
	mu     sync.Mutex
	inputs []llm.GenerateInput
	reply  string
	err    error
}

func (g *recordingGenerator) Generate(_ context.Context, in llm.GenerateInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.inputs = append(g.inputs, in)
	return g.reply, g.err
}

type failingChunks struct{ retrieval.Store }

func (failingChunks) TopK(context.Context, string, []float32, int) ([]retrieval.Chunk, error) {
	return nil, errors.New("connection refused")
}

type failingAppendRepo struct{ conversations.Repo }

func (failingAppendRepo) Append(context.Context, string, ...conversations.Message) ([]conversations.Message, error) {
	return nil, errors.New("write conflict")
}

// vanishingDocs reports the document gone when a conversation is attached.
type vanishingDocs struct{ documents.Repo }

func (vanishingDocs) AppendConversationRef(context.Context, string, documents.ConversationRef) error {
	return documents.ErrNotFound
}

type fixture struct {
	engine *Engine
	docs   *documents.MemoryRepo
	convs  *conversations.Service
	gen    *recordingGenerator
}

func newFixture(t *testing.T, status documents.Status) *fixture {
	t.Helper()
	ctx := context.Background()
	docs := documents.NewMemoryRepo()
	_, _, err := docs.Create(ctx, documents.Document{ID: "doc1", OwnerID: "u1", ArtifactKey: "u1/doc1.pdf", Filename: "doc1.pdf", CreatedAt: time.Now()})
	require.NoError(t, err)
	if status != documents.StatusUploaded {
		_, err = docs.UpdateStatus(ctx, "doc1", documents.StatusProcessing, "", 0)
		require.NoError(t, err)
	}
	if status == documents.StatusReady {
		_, err = docs.UpdateStatus(ctx, "doc1", documents.StatusReady, "", 3)
		require.NoError(t, err)
	}

	embedder := local.NewHashEmbedder(128)
	chunks := retrieval.NewMemoryStore()
	for i, text := range []string{
		"The summary of the annual report is that revenue grew.",
		"Penguins live in Antarctica and eat krill.",
		"Appendix with unrelated tables.",
	} {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, chunks.UpsertChunk(ctx, retrieval.Chunk{DocumentID: "doc1", Index: i, Text: text, Vector: vec}))
	}

	convs := &conversations.Service{Repo: conversations.NewMemoryRepo(), Documents: docs}
	gen := &recordingGenerator{reply: "Revenue grew."}
	return &fixture{
		engine: &Engine{
			Documents:     docs,
			Conversations: convs,
			Chunks:        chunks,
			Embedder:      embedder,
			Generator:     gen,
			TopK:          2,
			Model:         "local",
			Retry:         faults.Budget{Attempts: 1},
		},
		docs:  docs,
		convs: convs,
		gen:   gen,
	}
}

func TestRespondCreatesConversationAndAppendsPair(t *testing.T) {
	f := newFixture(t, documents.StatusReady)
	ctx := context.Background()

	reply, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u1", Prompt: "What is the summary?"})
	require.NoError(t, err)
	assert.True(t, reply.Created)
	assert.NotEmpty(t, reply.ConversationID)
	assert.Equal(t, conversations.RoleAI, reply.Message.Role)
	assert.Equal(t, "Revenue grew.", reply.Message.Content)

	conv, err := f.convs.Repo.Get(ctx, "doc1", reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, conversations.RoleHuman, conv.Messages[0].Role)
	assert.Equal(t, "What is the summary?", conv.Messages[0].Content)
	assert.Equal(t, conversations.RoleAI, conv.Messages[1].Role)
	assert.Equal(t, "local", conv.Messages[1].Metadata["model"])

	require.Len(t, f.gen.inputs, 1)
	in := f.gen.inputs[0]
	require.Len(t, in.Context, 2)
	assert.Contains(t, in.Context[0], "summary of the annual report")
	assert.Empty(t, in.History)

	doc, _ := f.docs.Get(ctx, "u1", "doc1")
	assert.Len(t, doc.ConversationRefs, 1)
}

func TestRespondCarriesHistoryOnFollowUp(t *testing.T) {
	f := newFixture(t, documents.StatusReady)
	ctx := context.Background()

	first, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u1", Prompt: "What is the summary?"})
	require.NoError(t, err)
	second, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", ConversationID: first.ConversationID, UserID: "u1", Prompt: "And penguins?"})
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	in := f.gen.inputs[1]
	require.Len(t, in.History, 2)
	assert.Equal(t, llm.RoleHuman, in.History[0].Role)
	assert.Equal(t, "What is the summary?", in.History[0].Content)

	conv, _ := f.convs.Repo.Get(ctx, "doc1", first.ConversationID)
	assert.Len(t, conv.Messages, 4)
}

func TestRespondReportsEachFailureDistinctly(t *testing.T) {
	ctx := context.Background()
	req := Request{DocumentID: "doc1", ConversationID: "", UserID: "u1", Prompt: "q"}

	t.Run("retrieval", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		f.engine.Chunks = failingChunks{}
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, ErrRetrievalUnavailable)
		assert.Equal(t, CodeRetrievalUnavailable, Code(err))
		assert.Empty(t, f.gen.inputs)
	})

	t.Run("generation", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		f.gen.err = errors.New("model overloaded")
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.Equal(t, CodeGenerationFailed, Code(err))
	})

	t.Run("empty generation", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		f.gen.reply = "  "
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, ErrGenerationFailed)
		assert.ErrorIs(t, err, llm.ErrEmptyResponse)
	})

	t.Run("conversation write", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		f.convs.Repo = failingAppendRepo{f.convs.Repo}
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, ErrConversationWrite)
		assert.Equal(t, CodeConversationWrite, Code(err))
	})

	t.Run("not ready", func(t *testing.T) {
		f := newFixture(t, documents.StatusProcessing)
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, ErrDocumentNotReady)
		assert.Equal(t, CodeDocumentNotReady, Code(err))
	})

	t.Run("deleted mid request", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		f.convs.Documents = vanishingDocs{f.docs}
		_, err := f.engine.Respond(ctx, req)
		assert.ErrorIs(t, err, documents.ErrNotFound)
		assert.NotErrorIs(t, err, ErrConversationWrite)
		assert.Equal(t, CodeNotFound, Code(err))
		assert.Empty(t, f.gen.inputs)
	})

	t.Run("other owner", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		_, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u2", Prompt: "q"})
		assert.Equal(t, CodeNotFound, Code(err))
	})

	t.Run("blank prompt", func(t *testing.T) {
		f := newFixture(t, documents.StatusReady)
		_, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u1", Prompt: " "})
		assert.Equal(t, CodeBadRequest, Code(err))
	})
}

func TestRespondFailureAppendsNothing(t *testing.T) {
	f := newFixture(t, documents.StatusReady)
	ctx := context.Background()
	ok, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u1", Prompt: "first"})
	require.NoError(t, err)

	f.gen.err = errors.New("model overloaded")
	_, err = f.engine.Respond(ctx, Request{DocumentID: "doc1", ConversationID: ok.ConversationID, UserID: "u1", Prompt: "second"})
	require.Error(t, err)

	conv, _ := f.convs.Repo.Get(ctx, "doc1", ok.ConversationID)
	assert.Len(t, conv.Messages, 2)
}

func TestConcurrentRespondsToOneConversationLoseNothing(t *testing.T) {
	f := newFixture(t, documents.StatusReady)
	ctx := context.Background()
	first, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", UserID: "u1", Prompt: "start"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Respond(ctx, Request{DocumentID: "doc1", ConversationID: first.ConversationID, UserID: "u1", Prompt: "again"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv, err := f.convs.Repo.Get(ctx, "doc1", first.ConversationID)
	require.NoError(t, err)
	assert.Len(t, conv.Messages, 22)
}
