package workerproc

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"docchat-backend/internal/queue"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/telemetry"
)

const (
	maxBatch       = 10
	receiveBackoff = time.Second
	idlePoll       = 50 * time.Millisecond
)

// HandleFunc finishes one delivery. A nil return acks it; an error leaves
// it for redelivery after the visibility window.
type HandleFunc func(ctx context.Context, d queue.Delivery) error

// Runner polls a consumer and handles deliveries on a bounded worker pool.
// Each slot holds one delivery at a time.
type Runner struct {
	Name            string
	Consumer        queue.Consumer
	Handle          HandleFunc
	Concurrency     int
	ShutdownTimeout time.Duration
}

// Run polls until ctx is cancelled, then waits up to ShutdownTimeout for
// in-flight deliveries. Handlers keep running after ctx is cancelled so a
// shutdown does not turn half-done jobs into failures.
func (r *Runner) Run(ctx context.Context) error {
	size := max(1, r.Concurrency)
	pool, err := ants.NewPool(size)
	if err != nil {
		return err
	}
	defer pool.Release()

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	fields := map[string]any{"runner": r.Name, "concurrency": size}
	telemetry.Info("worker.runner.started", fields)

	for ctx.Err() == nil {
		free := pool.Free()
		if free <= 0 {
			if !sleep(ctx, idlePoll) {
				break
			}
			continue
		}

		deliveries, err := r.Consumer.Receive(ctx, min(free, maxBatch))
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			telemetry.Warn("worker.receive.failed", map[string]any{"runner": r.Name, "error": err.Error()})
			if !sleep(ctx, receiveBackoff) {
				break
			}
			continue
		}

		for _, d := range deliveries {
			wg.Add(1)
			if err := pool.Submit(func() {
				defer wg.Done()
				r.handle(jobCtx, d)
			}); err != nil {
				wg.Done()
				telemetry.Error("worker.submit.failed", map[string]any{"runner": r.Name, "message_id": d.ID, "error": err.Error()})
			}
		}
	}

	telemetry.Info("worker.runner.draining", map[string]any{"runner": r.Name, "timeout_ms": r.ShutdownTimeout.Milliseconds()})
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if r.ShutdownTimeout > 0 {
		t := time.NewTimer(r.ShutdownTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case <-done:
	case <-timeout:
		telemetry.Warn("worker.runner.drain_timeout", map[string]any{"runner": r.Name})
		cancelJobs()
	}
	telemetry.Info("worker.runner.stopped", map[string]any{"runner": r.Name})
	return nil
}

func (r *Runner) handle(ctx context.Context, d queue.Delivery) {
	fields := map[string]any{
		"runner":        r.Name,
		"message_id":    d.ID,
		"receive_count": d.ReceiveCount,
	}
	if err := r.Handle(ctx, d); err != nil {
		fields["error"] = err.Error()
		telemetry.Warn("worker.delivery.retry", fields)
		metrics.IncJob("retry")
		return
	}
	if err := r.Consumer.Ack(ctx, d); err != nil {
		fields["error"] = err.Error()
		telemetry.Error("worker.ack.failed", fields)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
