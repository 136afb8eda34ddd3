package workerproc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docchat-backend/internal/chunking"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/extract"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/llm"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/retrieval"
	"docchat-backend/internal/shared/faults"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/storage/object"
	"docchat-backend/internal/shared/telemetry"
)

const maxReasonLen = 500

// Outcome is what a processed job did to its document.
type Outcome string

const (
	OutcomeReady     Outcome = "ready"
	OutcomeError     Outcome = "error"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDiscarded Outcome = "discarded"
)

// Processor runs one ingestion job end to end.
type Processor struct {
	Documents documents.Repo
	Machine   *ingestion.Machine
	Store     object.ObjectStore
	Extractor extract.Extractor
	Splitter  chunking.Splitter
	Embedder  llm.Embedder
	Chunks    retrieval.Store

	FetchTimeout time.Duration
	EmbedTimeout time.Duration
	Retry        faults.Budget
	Now          func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// Process indexes the job's document. Fetch, extract and embed failures
// end the document in ERROR and return a nil error, so the job is acked.
// An error is returned only when the outcome itself could not be recorded;
// the job is then left for redelivery.
func (p *Processor) Process(ctx context.Context, job queue.Message) (Outcome, error) {
	started := p.now()
	fields := map[string]any{"document_id": job.DocumentID}

	doc, err := p.Documents.GetByID(ctx, job.DocumentID)
	if errors.Is(err, documents.ErrNotFound) {
		telemetry.Info("worker.job.discarded", fields)
		metrics.IncJob(string(OutcomeDiscarded))
		return OutcomeDiscarded, nil
	}
	if err != nil {
		return "", faults.Transient("worker.load", err)
	}
	fields["user_id"] = doc.OwnerID

	if doc.Status.Terminal() {
		fields["status"] = string(doc.Status)
		telemetry.Info("worker.job.skipped", fields)
		metrics.IncJob(string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}

	doc, err = p.Machine.Begin(ctx, doc)
	if outcome, ok := settled(err); ok {
		metrics.IncJob(string(outcome))
		return outcome, nil
	}
	if err != nil {
		return "", faults.Transient("worker.begin", err)
	}

	pages, count, err := p.index(ctx, doc)
	if err != nil {
		return p.fail(ctx, doc, err, fields)
	}

	_, err = p.Machine.Complete(ctx, doc, pages)
	if errors.Is(err, documents.ErrNotFound) {
		// Deleted while processing; drop what was written.
		_ = p.Chunks.DeleteByDocument(ctx, doc.ID)
	}
	if outcome, ok := settled(err); ok {
		metrics.IncJob(string(outcome))
		return outcome, nil
	}
	if err != nil {
		return "", faults.Transient("worker.complete", err)
	}

	elapsed := p.now().Sub(started)
	fields["page_count"] = pages
	fields["chunks"] = count
	fields["duration_ms"] = elapsed.Milliseconds()
	telemetry.Info("worker.job.ready", fields)
	metrics.IncJob(string(OutcomeReady))
	metrics.AddChunksEmbedded(count)
	metrics.ObserveIngestionSeconds(elapsed.Seconds())
	return OutcomeReady, nil
}

// index writes one chunk per (document, index), overwriting a previous run,
// then trims indices a longer previous run left behind.
func (p *Processor) index(ctx context.Context, doc documents.Document) (int, int, error) {
	var data []byte
	err := faults.Retry(ctx, p.Retry, func(ctx context.Context) error {
		return faults.WithTimeout(ctx, p.FetchTimeout, "worker.fetch", func(ctx context.Context) error {
			b, err := object.ReadAll(ctx, p.Store, doc.ArtifactKey)
			if errors.Is(err, object.ErrNotFound) {
				return faults.Fatal("worker.fetch", err)
			}
			data = b
			return err
		})
	})
	if err != nil {
		return 0, 0, fmt.Errorf("fetch artifact: %w", err)
	}

	res, err := p.Extractor.Extract(ctx, data, doc.Filename)
	if err != nil {
		return 0, 0, faults.Fatal("worker.extract", err)
	}
	if err := extract.SaveDerived(ctx, p.Store, documents.DerivedTextKey(doc.ArtifactKey), res.Text); err != nil {
		telemetry.Warn("worker.derived.save_failed", map[string]any{
			"document_id": doc.ID,
			"error":       err.Error(),
		})
	}

	chunks := p.Splitter.Split(res.Text)
	if len(chunks) == 0 {
		return 0, 0, faults.Fatal("worker.split", extract.ErrEmptyText)
	}

	for i, text := range chunks {
		var vec []float32
		err := faults.Retry(ctx, p.Retry, func(ctx context.Context) error {
			return faults.WithTimeout(ctx, p.EmbedTimeout, "worker.embed", func(ctx context.Context) error {
				v, err := p.Embedder.Embed(ctx, text)
				vec = v
				return err
			})
		})
		if err != nil {
			return 0, 0, fmt.Errorf("embed chunk %d: %w", i, err)
		}

		chunk := retrieval.Chunk{DocumentID: doc.ID, Index: i, Text: text, Vector: vec}
		if err := faults.Retry(ctx, p.Retry, func(ctx context.Context) error {
			return p.Chunks.UpsertChunk(ctx, chunk)
		}); err != nil {
			return 0, 0, fmt.Errorf("store chunk %d: %w", i, err)
		}
	}
	if err := p.Chunks.Trim(ctx, doc.ID, len(chunks)); err != nil {
		return 0, 0, fmt.Errorf("trim chunks: %w", err)
	}
	return res.PageCount, len(chunks), nil
}

// fail records ERROR with the cause, then removes partial chunks. Chunks
// are kept when another delivery already finished the document.
func (p *Processor) fail(ctx context.Context, doc documents.Document, cause error, fields map[string]any) (Outcome, error) {
	fields["error"] = cause.Error()
	fields["kind"] = string(faults.KindOf(cause))
	telemetry.Error("worker.job.failed", fields)

	_, err := p.Machine.Fail(ctx, doc, failureReason(cause))
	if err == nil || errors.Is(err, documents.ErrNotFound) {
		if err := p.Chunks.DeleteByDocument(ctx, doc.ID); err != nil {
			telemetry.Warn("worker.chunks.cleanup_failed", map[string]any{
				"document_id": doc.ID,
				"error":       err.Error(),
			})
		}
	}
	if outcome, ok := settled(err); ok {
		metrics.IncJob(string(outcome))
		return outcome, nil
	}
	if err != nil {
		return "", faults.Transient("worker.fail", err)
	}
	metrics.IncJob(string(OutcomeError))
	return OutcomeError, nil
}

// settled maps transition errors that end the job without a new status:
// the document was deleted, or another delivery already finished it.
func settled(err error) (Outcome, bool) {
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return OutcomeDiscarded, true
	case errors.Is(err, documents.ErrInvalidTransition):
		return OutcomeSkipped, true
	default:
		return "", false
	}
}

func failureReason(err error) string {
	reason := err.Error()
	if faults.IsRetryable(err) {
		reason = "timed out or unavailable: " + reason
	}
	if r := []rune(reason); len(r) > maxReasonLen {
		reason = string(r[:maxReasonLen])
	}
	return reason
}
