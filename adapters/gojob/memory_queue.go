package gojob

import (
	"context"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// MemoryQueue is an in-process queue for single-node deployments. Messages
// with the "drop" dedup policy are ignored while one with the same
// idempotency key is still pending. Dead-lettered messages are kept for
// inspection.
type MemoryQueue struct {
	mu          sync.Mutex
	pending     []*job.ExecutionMessage
	keys        map[string]struct{}
	deadLetters []*job.ExecutionMessage
	notify      chan struct{}
	timers      map[*time.Timer]struct{}
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		keys:   map[string]struct{}{},
		notify: make(chan struct{}, 1),
		timers: map[*time.Timer]struct{}{},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return nil
	}
	q.mu.Lock()
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && msg.DedupPolicy == job.DeduplicationPolicy("drop") {
		if _, exists := q.keys[key]; exists {
			q.mu.Unlock()
			return nil
		}
		q.keys[key] = struct{}{}
	}
	q.pending = append(q.pending, msg)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue blocks until a message is available or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			delete(q.keys, strings.TrimSpace(msg.IdempotencyKey))
			q.mu.Unlock()
			return &memoryDelivery{queue: q, msg: msg}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports the number of pending messages.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.deadLetters...)
}

// Close stops pending delayed requeues.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage, delay time.Duration) {
	if delay <= 0 {
		_ = q.Enqueue(context.Background(), msg)
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, timer)
		q.mu.Unlock()
		_ = q.Enqueue(context.Background(), msg)
	})
	q.timers[timer] = struct{}{}
}

func (q *MemoryQueue) deadLetter(msg *job.ExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deadLetters = append(q.deadLetters, msg)
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage { return d.msg }

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.once.Do(func() {
		switch {
		case opts.DeadLetter:
			d.queue.deadLetter(d.msg)
		case opts.Requeue:
			d.queue.requeue(d.msg, opts.Delay)
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
