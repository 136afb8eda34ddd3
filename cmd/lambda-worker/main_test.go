package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"docchat-backend/internal/queue"
)

func TestProcessBatchReportsOnlyFailedRecords(t *testing.T) {
	event := events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: "a", Attributes: map[string]string{"ApproximateReceiveCount": "1"}},
		{MessageId: "m2", Body: "b", Attributes: map[string]string{"ApproximateReceiveCount": "3"}},
		{MessageId: "m3", Body: "c"},
	}}

	var counts []int
	resp := processBatch(context.Background(), func(_ context.Context, d queue.Delivery) error {
		counts = append(counts, d.ReceiveCount)
		if d.Body == "b" {
			return errors.New("store unavailable")
		}
		return nil
	}, event)

	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "m2" {
		t.Fatalf("unexpected failures %+v", resp.BatchItemFailures)
	}
	if len(counts) != 3 || counts[0] != 1 || counts[1] != 3 {
		t.Fatalf("unexpected receive counts %v", counts)
	}
}

func TestFailAllMarksEveryRecord(t *testing.T) {
	resp := failAll(events.SQSEvent{Records: []events.SQSMessage{{MessageId: "a"}, {MessageId: "b"}}})
	if len(resp.BatchItemFailures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(resp.BatchItemFailures))
	}
}
