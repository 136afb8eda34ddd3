package queue

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const defaultMemoryVisibility = 30 * time.Second

type memoryEntry struct {
	id           string
	body         string
	receiveCount int
	invisibleTil time.Time
	handle       string
}

// MemoryQueue is an in-process queue with SQS-like visibility semantics.
// Used in dev and tests.
type MemoryQueue struct {
	mu         sync.Mutex
	entries    []*memoryEntry
	nextID     int
	visibility time.Duration
	wait       time.Duration
	now        func() time.Time
	notify     chan struct{}
	closed     bool
}

// NewMemoryQueue creates an empty queue. A zero visibility uses 30s.
func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = defaultMemoryVisibility
	}
	return &MemoryQueue{
		visibility: visibility,
		wait:       time.Second,
		now:        time.Now,
		notify:     make(chan struct{}, 1),
	}
}

// SetClock overrides the time source.
func (q *MemoryQueue) SetClock(now func() time.Time) {
	q.mu.Lock()
	q.now = now
	q.mu.Unlock()
}

// SetWait sets how long an empty Receive blocks.
func (q *MemoryQueue) SetWait(d time.Duration) {
	q.mu.Lock()
	q.wait = d
	q.mu.Unlock()
}

// Send enqueues an encoded job.
func (q *MemoryQueue) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	return q.SendRaw(ctx, string(payload))
}

// SendRaw enqueues an arbitrary body.
func (q *MemoryQueue) SendRaw(ctx context.Context, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.nextID++
	q.entries = append(q.entries, &memoryEntry{id: "mem-" + strconv.Itoa(q.nextID), body: body})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Receive returns up to max visible messages, waiting briefly when empty.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	q.mu.Lock()
	wait := q.wait
	q.mu.Unlock()

	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	for {
		if out := q.take(max); len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) take(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []Delivery
	for _, e := range q.entries {
		if len(out) >= max {
			break
		}
		if now.Before(e.invisibleTil) {
			continue
		}
		e.receiveCount++
		e.invisibleTil = now.Add(q.visibility)
		e.handle = e.id + "#" + strconv.Itoa(e.receiveCount)
		out = append(out, Delivery{ID: e.id, Body: e.body, ReceiveCount: e.receiveCount, handle: e.handle})
	}
	return out
}

// Ack removes the delivery. A stale handle from an earlier receive is
// ignored, matching SQS receipt-handle semantics.
func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.id == d.ID && e.handle == d.handle {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports messages not yet acked, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close rejects further sends.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

var (
	_ Client   = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)
