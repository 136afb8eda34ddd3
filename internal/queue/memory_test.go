package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemoryQueueRedeliversUnackedAfterVisibility(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q := NewMemoryQueue(time.Minute)
	q.SetClock(clock.Now)
	q.SetWait(10 * time.Millisecond)
	ctx := context.Background()

	if err := q.Send(ctx, NewMessage("doc-1", "u1/a.pdf", clock.Now())); err != nil {
		t.Fatalf("send: %v", err)
	}

	first, err := q.Receive(ctx, 10)
	if err != nil || len(first) != 1 {
		t.Fatalf("first receive: %v %d", err, len(first))
	}
	if first[0].ReceiveCount != 1 {
		t.Fatalf("expected receive count 1, got %d", first[0].ReceiveCount)
	}

	hidden, _ := q.Receive(ctx, 10)
	if len(hidden) != 0 {
		t.Fatalf("message should be invisible, got %d", len(hidden))
	}

	clock.Advance(2 * time.Minute)
	second, _ := q.Receive(ctx, 10)
	if len(second) != 1 || second[0].ReceiveCount != 2 {
		t.Fatalf("expected redelivery with count 2, got %+v", second)
	}

	// The first receipt is stale once the message was redelivered.
	_ = q.Ack(ctx, first[0])
	if q.Len() != 1 {
		t.Fatalf("stale ack should not remove message")
	}
	_ = q.Ack(ctx, second[0])
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after ack, got %d", q.Len())
	}
}

func TestMemoryQueueReceiveWakesOnSend(t *testing.T) {
	q := NewMemoryQueue(time.Minute)
	q.SetWait(2 * time.Second)
	ctx := context.Background()

	got := make(chan []Delivery, 1)
	go func() {
		out, _ := q.Receive(ctx, 1)
		got <- out
	}()
	time.Sleep(20 * time.Millisecond)
	if err := q.SendRaw(ctx, `{"documentId":"d"}`); err != nil {
		t.Fatalf("send raw: %v", err)
	}

	select {
	case out := <-got:
		if len(out) != 1 {
			t.Fatalf("expected 1 delivery, got %d", len(out))
		}
	case <-time.After(time.Second):
		t.Fatalf("receive did not wake on send")
	}
}

func TestMemoryQueueClosedRejectsSend(t *testing.T) {
	q := NewMemoryQueue(0)
	q.Close()
	if err := q.SendRaw(context.Background(), "x"); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
