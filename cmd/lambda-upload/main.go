package main

// Build the Lambda handler binary for bucket notifications:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-upload

import (
	"context"
	"log"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/ingestion"
	"docchat-backend/internal/shared/config"
)

var (
	initOnce sync.Once
	initErr  error
	app      *bootstrap.App
)

func initApp() {
	cfg := config.Load()
	built, err := bootstrap.Build(cfg)
	if err != nil {
		initErr = err
		return
	}
	app = built
}

// uploadHandler creates a document for one stored artifact.
type uploadHandler interface {
	HandleUpload(ctx context.Context, n ingestion.Notification) (ingestion.UploadResult, error)
}

func handler(ctx context.Context, event events.S3Event) error {
	initOnce.Do(initApp)
	if initErr != nil {
		log.Printf("bootstrap error: %v", initErr)
		return initErr
	}
	return handleEvent(ctx, app.Machine, app.StorePrefix, event)
}

// handleEvent stops at the first failure so the invocation is retried;
// notifications already handled are idempotent.
func handleEvent(ctx context.Context, m uploadHandler, prefix string, event events.S3Event) error {
	for _, n := range ingestion.NotificationsFromS3Event(prefix, event) {
		if _, err := m.HandleUpload(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	lambda.Start(handler)
}
