package refresh

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/projectpulse/ingest/core"
)

// MemoryQueue is an in-process job queue for single-node deployments.
// Messages with DedupPolicy "drop" and a previously seen idempotency key
// are discarded on enqueue, which is what keeps one refresh per window.
type MemoryQueue struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	items chan *core.JobExecutionMessage
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 64
	}
	return &MemoryQueue{
		seen:  map[string]struct{}{},
		items: make(chan *core.JobExecutionMessage, capacity),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("refresh: memory queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("refresh: execution message is required")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && strings.EqualFold(strings.TrimSpace(msg.DedupPolicy), "drop") {
		q.mu.Lock()
		if _, dup := q.seen[key]; dup {
			q.mu.Unlock()
			return nil
		}
		q.seen[key] = struct{}{}
		q.mu.Unlock()
	}
	select {
	case q.items <- msg:
		return nil
	default:
		return fmt.Errorf("refresh: memory queue is full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (core.JobDelivery, error) {
	if q == nil {
		return nil, fmt.Errorf("refresh: memory queue is not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-q.items:
		return &memoryDelivery{queue: q, msg: msg}, nil
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *core.JobExecutionMessage
}

func (d *memoryDelivery) Message() *core.JobExecutionMessage {
	if d == nil {
		return nil
	}
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Nack(ctx context.Context, opts core.JobNackOptions) error {
	if d == nil || d.queue == nil {
		return fmt.Errorf("refresh: delivery is not configured")
	}
	if !opts.Requeue {
		return nil
	}
	select {
	case d.queue.items <- d.msg:
		return nil
	default:
		return fmt.Errorf("refresh: memory queue is full")
	}
}

var (
	_ core.JobEnqueuer = (*MemoryQueue)(nil)
	_ core.JobDequeuer = (*MemoryQueue)(nil)
	_ core.JobDelivery = (*memoryDelivery)(nil)
)
