package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	sqsMaxBatch        = 10
	sqsLongPollSeconds = 20
)

// SQSAPI is the subset of the SQS client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSClient sends and receives queue messages on AWS SQS.
type SQSClient struct {
	client     SQSAPI
	queueURL   string
	visibility time.Duration
}

// NewSQSClient constructs an SQS-backed queue for queueURL.
func NewSQSClient(ctx context.Context, region, queueURL string, visibility time.Duration) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("sqs queue url is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSClientWithAPI(sqs.NewFromConfig(cfg), queueURL, visibility), nil
}

// NewSQSClientWithAPI wraps an existing SQS client.
func NewSQSClientWithAPI(client SQSAPI, queueURL string, visibility time.Duration) *SQSClient {
	return &SQSClient{client: client, queueURL: queueURL, visibility: visibility}
}

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to max messages.
func (s *SQSClient) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 || max > sqsMaxBatch {
		max = sqsMaxBatch
	}
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     sqsLongPollSeconds,
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	}
	if s.visibility > 0 {
		input.VisibilityTimeout = int32(s.visibility / time.Second)
	}
	resp, err := s.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive message: %w", err)
	}

	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Delivery{
			ID:           aws.ToString(m.MessageId),
			Body:         aws.ToString(m.Body),
			ReceiveCount: receiveCount(m),
			handle:       aws.ToString(m.ReceiptHandle),
		})
	}
	return out, nil
}

// Ack deletes the message so it is not redelivered.
func (s *SQSClient) Ack(ctx context.Context, d Delivery) error {
	if d.handle == "" {
		return fmt.Errorf("sqs ack message=%s: missing receipt handle", d.ID)
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(d.handle),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

// FromSQSRecord adapts a Lambda-delivered SQS record. Lambda acks on a
// nil handler return, so the handle is left empty.
func FromSQSRecord(id, body string, attrs map[string]string) Delivery {
	d := Delivery{ID: id, Body: body}
	if raw := attrs["ApproximateReceiveCount"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			d.ReceiveCount = n
		}
	}
	return d
}

var (
	_ Client   = (*SQSClient)(nil)
	_ Consumer = (*SQSClient)(nil)
)
