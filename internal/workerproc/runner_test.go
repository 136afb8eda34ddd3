package workerproc

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docchat-backend/internal/queue"
)

func startRunner(t *testing.T, r *Runner) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatalf("runner did not stop")
		}
	}
}

func TestRunnerHandlesAndAcks(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.SetWait(20 * time.Millisecond)
	ctx := context.Background()
	for _, id := range []string{"d1", "d2", "d3"} {
		require.NoError(t, q.Send(ctx, queue.NewMessage(id, "", time.Now())))
	}

	var mu sync.Mutex
	seen := map[string]int{}
	stop := startRunner(t, &Runner{
		Name:        "test",
		Consumer:    q,
		Concurrency: 2,
		Handle: func(_ context.Context, d queue.Delivery) error {
			msg, _, err := ParseMessage(d.Body)
			assert.NoError(t, err)
			mu.Lock()
			seen[msg.DocumentID]++
			mu.Unlock()
			return nil
		},
		ShutdownTimeout: time.Second,
	})

	require.Eventually(t, func() bool { return q.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"d1": 1, "d2": 1, "d3": 1}, seen)
}

func TestRunnerLeavesFailedDeliveryForRedelivery(t *testing.T) {
	q := queue.NewMemoryQueue(30 * time.Millisecond)
	q.SetWait(10 * time.Millisecond)
	require.NoError(t, q.Send(context.Background(), queue.NewMessage("d1", "", time.Now())))

	var attempts atomic.Int32
	stop := startRunner(t, &Runner{
		Name:        "test",
		Consumer:    q,
		Concurrency: 1,
		Handle: func(_ context.Context, d queue.Delivery) error {
			if attempts.Add(1) == 1 {
				return errors.New("status write failed")
			}
			assert.Equal(t, 2, d.ReceiveCount)
			return nil
		},
		ShutdownTimeout: time.Second,
	})

	require.Eventually(t, func() bool { return q.Len() == 0 }, 3*time.Second, 10*time.Millisecond)
	stop()
	assert.Equal(t, int32(2), attempts.Load())
}

func TestRunnerDrainsInFlightOnShutdown(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	q.SetWait(10 * time.Millisecond)
	require.NoError(t, q.Send(context.Background(), queue.NewMessage("d1", "", time.Now())))

	started := make(chan struct{})
	var finished atomic.Bool
	stop := startRunner(t, &Runner{
		Name:        "test",
		Consumer:    q,
		Concurrency: 1,
		Handle: func(ctx context.Context, _ queue.Delivery) error {
			close(started)
			time.Sleep(50 * time.Millisecond)
			finished.Store(ctx.Err() == nil)
			return nil
		},
		ShutdownTimeout: 2 * time.Second,
	})

	<-started
	stop()
	assert.True(t, finished.Load(), "handler context survives shutdown until the drain timeout")
	assert.Equal(t, 0, q.Len())
}
