package gojob

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/retry"
	"github.com/goliatone/go-request-network/webhooks"
)

const (
	JobIDRedeliver    = "request_network.webhook.redeliver"
	ScriptRedeliver   = "request_network.webhook.redeliver"
	paramEvent        = "event"
	paramDeliveryID   = "delivery_id"
	paramAttempt      = "attempt"
	defaultBatchLimit = 100
)

// Redeliverer re-runs a stored delivery.
type Redeliverer interface {
	Redeliver(ctx context.Context, event string, deliveryID string) (webhooks.ProcessResult, error)
}

// RetryPolicy bounds queue retries so a failing delivery cannot loop forever.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt clamps nack options for attempt.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// RedeliveryMessage builds the queue message for a ledger record. The
// idempotency key changes with every attempt so retries are not collapsed.
func RedeliveryMessage(record webhooks.DeliveryRecord) *job.ExecutionMessage {
	event := strings.TrimSpace(record.Event)
	deliveryID := strings.TrimSpace(record.DeliveryID)
	return &job.ExecutionMessage{
		JobID:      JobIDRedeliver,
		ScriptPath: ScriptRedeliver,
		Parameters: map[string]any{
			paramEvent:      event,
			paramDeliveryID: deliveryID,
			paramAttempt:    record.Attempts,
		},
		IdempotencyKey: event + ":" + deliveryID + ":" + strconv.Itoa(record.Attempts),
		DedupPolicy:    job.DeduplicationPolicy("drop"),
	}
}

// RedeliveryTarget reads the event and delivery id back from a message.
func RedeliveryTarget(msg *job.ExecutionMessage) (string, string, error) {
	if msg == nil {
		return "", "", fmt.Errorf("gojob: execution message is required")
	}
	if strings.TrimSpace(msg.JobID) != JobIDRedeliver {
		return "", "", fmt.Errorf("gojob: unexpected job id %q", msg.JobID)
	}
	event, _ := msg.Parameters[paramEvent].(string)
	deliveryID, _ := msg.Parameters[paramDeliveryID].(string)
	event = strings.TrimSpace(event)
	deliveryID = strings.TrimSpace(deliveryID)
	if event == "" || deliveryID == "" {
		return "", "", fmt.Errorf("gojob: redelivery message requires event and delivery id")
	}
	return event, deliveryID, nil
}

// EnqueueDue pushes every due ledger record onto the queue and returns how
// many were enqueued.
func EnqueueDue(
	ctx context.Context,
	lister webhooks.DueDeliveryLister,
	enqueuer queue.Enqueuer,
	now time.Time,
	limit int,
) (int, error) {
	if lister == nil || enqueuer == nil {
		return 0, fmt.Errorf("gojob: lister and enqueuer are required")
	}
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	records, err := lister.ListDue(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	enqueued := 0
	for _, record := range records {
		if err := enqueuer.Enqueue(ctx, RedeliveryMessage(record)); err != nil {
			return enqueued, fmt.Errorf("gojob: enqueue %s/%s: %w", record.Event, record.DeliveryID, err)
		}
		enqueued++
	}
	return enqueued, nil
}

// RedeliveryWorker consumes redelivery messages, re-runs them through the
// processor and acks or nacks the queue delivery. Nack delays come from
// retry.Decide so queue backoff matches the outbound retry policy.
type RedeliveryWorker struct {
	Dequeuer  queue.Dequeuer
	Processor Redeliverer
	Policy    RetryPolicy
	Retry     retry.Config
	Hook      worker.Hook
	Logger    core.Logger
	Now       func() time.Time
}

func NewRedeliveryWorker(dequeuer queue.Dequeuer, processor Redeliverer, policy RetryPolicy) *RedeliveryWorker {
	cfg := retry.DefaultConfig()
	if policy.MaxAttempts > 0 {
		cfg.MaxAttempts = policy.MaxAttempts
	}
	if policy.MaxDelay > 0 {
		cfg.MaxDelay = policy.MaxDelay
	}
	return &RedeliveryWorker{
		Dequeuer:  dequeuer,
		Processor: processor,
		Policy:    policy,
		Retry:     cfg,
		Now:       time.Now,
	}
}

// RunOnce dequeues and handles a single delivery.
func (w *RedeliveryWorker) RunOnce(ctx context.Context) error {
	if w == nil || w.Dequeuer == nil || w.Processor == nil {
		return fmt.Errorf("gojob: redelivery worker is not configured")
	}
	delivery, err := w.Dequeuer.Dequeue(ctx)
	if err != nil {
		return err
	}
	return w.Handle(ctx, delivery)
}

// Run keeps consuming until ctx is done or the dequeuer fails.
func (w *RedeliveryWorker) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// Handle processes one queue delivery.
func (w *RedeliveryWorker) Handle(ctx context.Context, delivery queue.Delivery) error {
	if delivery == nil {
		return fmt.Errorf("gojob: delivery is required")
	}
	logger := core.ResolveLogger("gojob.redelivery", nil, w.Logger).WithContext(ctx)
	msg := delivery.Message()
	attempt := messageAttempt(msg)
	started := w.now()
	event := worker.Event{Message: msg, Delivery: delivery, Attempt: attempt, StartedAt: started}
	w.fire(ctx, w.hookStart, event)

	eventName, deliveryID, err := RedeliveryTarget(msg)
	if err != nil {
		event.Err = err
		event.Duration = w.now().Sub(started)
		w.fire(ctx, w.hookFailure, event)
		logger.Error("redelivery message rejected", "error", err.Error())
		return delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()})
	}

	result, err := w.Processor.Redeliver(ctx, eventName, deliveryID)
	event.Duration = w.now().Sub(started)
	if err == nil {
		w.fire(ctx, w.hookSuccess, event)
		logger.Debug("redelivery succeeded", "event", eventName, "delivery_id", deliveryID, "attempts", result.Attempts)
		return delivery.Ack(ctx)
	}

	if result.Attempts > attempt {
		attempt = result.Attempts
	}
	decision := retry.Decide(w.Retry, retry.Input{Attempt: attempt, Err: err})
	opts := w.Policy.NormalizeAttempt(queue.NackOptions{
		Delay:   decision.Delay,
		Requeue: decision.Retry,
		Reason:  err.Error(),
	}, attempt)
	if !decision.Retry {
		opts.Requeue = false
		opts.DeadLetter = true
	}
	event.Err = err
	event.Attempt = attempt
	event.Delay = opts.Delay
	if opts.Requeue {
		w.fire(ctx, w.hookRetry, event)
		logger.Warn("redelivery failed, requeued", "event", eventName, "delivery_id", deliveryID,
			"attempt", attempt, "delay_ms", opts.Delay.Milliseconds(), "reason", string(decision.Reason))
	} else {
		w.fire(ctx, w.hookFailure, event)
		logger.Error("redelivery dead-lettered", "event", eventName, "delivery_id", deliveryID,
			"attempt", attempt, "error", err.Error())
	}
	return delivery.Nack(ctx, opts)
}

func (w *RedeliveryWorker) hookStart(ctx context.Context, e worker.Event)   { w.Hook.OnStart(ctx, e) }
func (w *RedeliveryWorker) hookSuccess(ctx context.Context, e worker.Event) { w.Hook.OnSuccess(ctx, e) }
func (w *RedeliveryWorker) hookFailure(ctx context.Context, e worker.Event) { w.Hook.OnFailure(ctx, e) }
func (w *RedeliveryWorker) hookRetry(ctx context.Context, e worker.Event)   { w.Hook.OnRetry(ctx, e) }

func (w *RedeliveryWorker) fire(ctx context.Context, fn func(context.Context, worker.Event), event worker.Event) {
	if w.Hook == nil {
		return
	}
	fn(ctx, event)
}

func (w *RedeliveryWorker) now() time.Time {
	if w.Now == nil {
		return time.Now()
	}
	return w.Now()
}

func messageAttempt(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 0
	}
	switch value := msg.Parameters[paramAttempt].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	case string:
		parsed, _ := strconv.Atoi(strings.TrimSpace(value))
		return parsed
	default:
		return 0
	}
}
