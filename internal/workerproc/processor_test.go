package workerproc

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/chunking"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/extract"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/llm/local"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/storage/object"
	localstore "docchat-backend/internal/shared/storage/object/local"
)

// threePages is 7000 runes split into three form-feed pages.
var threePages = strings.Repeat("a", 2332) + "\f" + strings.Repeat("b", 2333) + "\f" + strings.Repeat("c", 2333)

type hangingEmbedder struct{ calls int }

func (e *hangingEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	e.calls++
	<-ctx.Done()
	return nil, ctx.Err()
}

// gatedEmbedder blocks its first call until release is closed, then fails.
type gatedEmbedder struct {
	entered chan struct{}
	release chan struct{}
}

func (e *gatedEmbedder) Embed(context.Context, string) ([]float32, error) {
	close(e.entered)
	<-e.release
	return nil, faults.Fatal("embed", errors.New("model rejected input"))
}

type fixture struct {
	proc   *Processor
	docs   *documents.MemoryRepo
	chunks *retrieval.MemoryStore
	store  *localstore.Store
	jobs   *queue.MemoryQueue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	docs := documents.NewMemoryRepo()
	chunks := retrieval.NewMemoryStore()
	store := localstore.New(t.TempDir())
	jobs := queue.NewMemoryQueue(time.Minute)
	machine := &ingestion.Machine{Documents: docs, Jobs: jobs, Accept: []string{".txt", ".pdf"}}
	return &fixture{
		proc: &Processor{
			Documents:    docs,
			Machine:      machine,
			Store:        store,
			Extractor:    extract.Default{},
			Splitter:     chunking.New(),
			Embedder:     local.NewHashEmbedder(64),
			Chunks:       chunks,
			FetchTimeout: time.Second,
			EmbedTimeout: time.Second,
			Retry:        faults.Budget{Attempts: 2},
		},
		docs:   docs,
		chunks: chunks,
		store:  store,
		jobs:   jobs,
	}
}

func (f *fixture) upload(t *testing.T, owner, name, body string) documents.Document {
	t.Helper()
	ctx := context.Background()
	key, size, _, err := f.store.Save(ctx, owner, name, strings.NewReader(body))
	require.NoError(t, err)
	res, err := f.proc.Machine.HandleUpload(ctx, ingestion.Notification{ArtifactKey: key, OwnerID: owner, ByteSize: size})
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Document
}

func TestProcessIndexesDocumentToReady(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "u1", "doc1.txt", threePages)

	outcome, err := f.proc.Process(ctx, queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusReady, stored.Status)
	assert.Equal(t, 3, stored.PageCount)

	n, err := f.chunks.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, n)

	derived, err := object.ReadAll(ctx, f.store, documents.DerivedTextKey(doc.ArtifactKey))
	require.NoError(t, err)
	assert.Equal(t, threePages, string(derived))
}

func TestProcessIndexesPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pdf, err := os.ReadFile("../extract/testdata/three_pages.pdf")
	require.NoError(t, err)
	doc := f.upload(t, "u1", "doc1.pdf", string(pdf))

	outcome, err := f.proc.Process(ctx, queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusReady, stored.Status)
	assert.Equal(t, 3, stored.PageCount)

	n, err := f.chunks.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Positive(t, n)

	derived, err := object.ReadAll(ctx, f.store, documents.DerivedTextKey(doc.ArtifactKey))
	require.NoError(t, err)
	assert.Contains(t, string(derived), "Churn stayed flat across all regions.")
}

func TestProcessEmbedTimeoutEndsInError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	embedder := &hangingEmbedder{}
	f.proc.Embedder = embedder
	f.proc.EmbedTimeout = 10 * time.Millisecond
	doc := f.upload(t, "u1", "doc1.txt", threePages)

	outcome, err := f.proc.Process(ctx, queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now()))
	require.NoError(t, err, "a processing failure is recorded, not returned")
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, 2, embedder.calls, "the per-call timeout is retried within the budget")

	stored, _ := f.docs.GetByID(ctx, doc.ID)
	assert.Equal(t, documents.StatusError, stored.Status)
	assert.NotEmpty(t, stored.StatusReason)

	n, _ := f.chunks.Count(ctx, doc.ID)
	assert.Zero(t, n)
}

func TestProcessMissingArtifactEndsInError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "u1", "doc1.txt", "hello")
	require.NoError(t, f.store.Delete(ctx, doc.ArtifactKey))

	outcome, err := f.proc.Process(ctx, queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeError, outcome)
	stored, _ := f.docs.GetByID(ctx, doc.ID)
	assert.Contains(t, stored.StatusReason, "fetch artifact")
}

func TestProcessRedeliveryOverwritesChunks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "u1", "doc1.txt", threePages)

	// A crashed earlier delivery left the document PROCESSING with a
	// longer, stale chunk set.
	_, err := f.docs.UpdateStatus(ctx, doc.ID, documents.StatusProcessing, "", 0)
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		require.NoError(t, f.chunks.UpsertChunk(ctx, retrieval.Chunk{DocumentID: doc.ID, Index: i, Text: "stale", Vector: make([]float32, 64)}))
	}

	job := queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now())
	outcome, err := f.proc.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	outcome, err = f.proc.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	n, _ := f.chunks.Count(ctx, doc.ID)
	assert.Equal(t, 9, n)
	top, err := f.chunks.TopK(ctx, doc.ID, make([]float32, 64), 12)
	require.NoError(t, err)
	for _, c := range top {
		assert.NotEqual(t, "stale", c.Text)
	}
}

func TestProcessFailingDuplicateKeepsChunksOfReadyDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "u1", "doc1.txt", threePages)
	job := queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now())

	gate := &gatedEmbedder{entered: make(chan struct{}), release: make(chan struct{})}
	slow := *f.proc
	slow.Embedder = gate
	slow.EmbedTimeout = 5 * time.Second

	type result struct {
		outcome Outcome
		err     error
	}
	failing := make(chan result, 1)
	go func() {
		outcome, err := slow.Process(ctx, job)
		failing <- result{outcome, err}
	}()
	<-gate.entered

	outcome, err := f.proc.Process(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReady, outcome)

	close(gate.release)
	res := <-failing
	require.NoError(t, res.err)
	assert.Equal(t, OutcomeSkipped, res.outcome)

	stored, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, documents.StatusReady, stored.Status)
	n, err := f.chunks.Count(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
}

func TestProcessUnknownDocumentIsDiscarded(t *testing.T) {
	f := newFixture(t)
	outcome, err := f.proc.Process(context.Background(), queue.NewMessage("gone", "u1/gone.pdf", time.Now()))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, outcome)
}

type brokenStatusRepo struct {
	*documents.MemoryRepo
}

func (r brokenStatusRepo) UpdateStatus(ctx context.Context, id string, to documents.Status, reason string, pages int) (documents.Document, error) {
	if to == documents.StatusError {
		return documents.Document{}, errors.New("connection refused")
	}
	return r.MemoryRepo.UpdateStatus(ctx, id, to, reason, pages)
}

func TestProcessReturnsErrorWhenOutcomeCannotBeRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.upload(t, "u1", "doc1.txt", "hello")
	require.NoError(t, f.store.Delete(ctx, doc.ArtifactKey))

	repo := brokenStatusRepo{f.docs}
	f.proc.Documents = repo
	f.proc.Machine.Documents = repo

	_, err := f.proc.Process(ctx, queue.NewMessage(doc.ID, doc.ArtifactKey, time.Now()))
	require.Error(t, err)
	assert.True(t, faults.IsRetryable(err))
}

func TestHandleDeliveryAcksUnrecoverablePayloads(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"", "{not json", `{"artifactKey":"u1/a.pdf"}`} {
		err := f.proc.HandleDelivery(context.Background(), queue.Delivery{ID: "m1", Body: body})
		assert.NoError(t, err, body)
	}
}

func TestParseMessageTypedErrors(t *testing.T) {
	_, _, err := ParseMessage("  ")
	assert.IsType(t, ErrEmptyBody{}, err)

	_, meta, err := ParseMessage("{oops")
	var decodeErr ErrDecode
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, 5, meta.BodyLen)
	assert.Len(t, meta.BodySHA, 64)

	_, _, err = ParseMessage(`{"documentId":"  "}`)
	assert.IsType(t, ErrMissingDocumentID{}, err)

	msg, _, err := ParseMessage(`{"documentId":"d1","artifactKey":"u1/a.pdf","version":1}`)
	require.NoError(t, err)
	assert.Equal(t, "d1", msg.DocumentID)
}
