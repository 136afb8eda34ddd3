// Package workerproc is the embedding worker: it turns ingestion jobs into
// stored chunk embeddings and drives documents to READY or ERROR.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

func (e ErrDecode) Unwrap() error { return e.Err }

// ErrMissingDocumentID indicates a job without a document id.
type ErrMissingDocumentID struct {
	Meta MessageMeta
}

func (e ErrMissingDocumentID) Error() string { return "missing document id" }

// ParseMessage validates and decodes an ingestion job payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.DocumentID) == "" {
		return msg, meta, ErrMissingDocumentID{Meta: meta}
	}
	return msg, meta, nil
}

// HandleDelivery parses one queue delivery and processes it. A nil return
// means the delivery is finished and may be acked. Payloads that can never
// succeed are logged and acked rather than redelivered forever.
func (p *Processor) HandleDelivery(ctx context.Context, d queue.Delivery) error {
	metrics.IncJob("received")
	fields := map[string]any{
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}

	job, meta, err := ParseMessage(d.Body)
	if err != nil {
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()

		var decodeErr ErrDecode
		var missingErr ErrMissingDocumentID
		switch {
		case errors.As(err, &decodeErr):
			telemetry.Error("worker.job.decode_failed", fields)
		case errors.As(err, &missingErr):
			telemetry.Error("worker.job.missing_id", fields)
		default:
			telemetry.Error("worker.job.empty_body", fields)
		}
		metrics.IncJob("discarded")
		return nil
	}

	fields["document_id"] = job.DocumentID
	telemetry.Info("worker.job.received", fields)

	outcome, err := p.Process(ctx, job)
	if err != nil {
		fields["error"] = err.Error()
		telemetry.Error("worker.job.unrecorded", fields)
		return err
	}
	fields["outcome"] = string(outcome)
	telemetry.Info("worker.job.completed", fields)
	return nil
}
