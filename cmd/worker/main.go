package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"docchat-backend/internal/bootstrap"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/telemetry"
	"docchat-backend/internal/workerproc"
)

func main() {
	cfg := config.Load()
	if cfg.JobsQueueURL == "" {
		log.Fatal("JOBS_QUEUE_URL is required")
	}

	app, err := bootstrap.Build(cfg)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runners := []*workerproc.Runner{app.JobsRunner()}
	if r := app.UploadsRunner(); r != nil {
		runners = append(runners, r)
	}

	telemetry.Info("worker.started", map[string]any{
		"jobs_queue":    cfg.JobsQueueURL,
		"uploads_queue": cfg.UploadsQueueURL,
		"concurrency":   cfg.WorkerConcurrency,
		"visibility_s":  int(cfg.VisibilityTimeout.Seconds()),
	})

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error { return r.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("worker error: %v", err)
	}
	telemetry.Info("worker.stopped", nil)
}
