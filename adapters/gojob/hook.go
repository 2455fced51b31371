package gojob

import (
	"context"

	"github.com/goliatone/go-job/queue/worker"
	"github.com/goliatone/go-request-network/core"
)

// ObserverHook reports worker lifecycle events as counters and durations.
type ObserverHook struct {
	Observer *core.Observer
}

func NewObserverHook(observer *core.Observer) *ObserverHook {
	return &ObserverHook{Observer: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event worker.Event) {
	h.count(ctx, "redelivery.start", event)
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event worker.Event) {
	h.count(ctx, "redelivery.success", event)
}

func (h *ObserverHook) OnFailure(ctx context.Context, event worker.Event) {
	h.count(ctx, "redelivery.failure", event)
}

func (h *ObserverHook) OnRetry(ctx context.Context, event worker.Event) {
	h.count(ctx, "redelivery.retry", event)
}

func (h *ObserverHook) count(ctx context.Context, name string, event worker.Event) {
	if h == nil || h.Observer == nil {
		return
	}
	tags := map[string]string{"job_id": JobIDRedeliver}
	if event.Message != nil {
		if value, ok := event.Message.Parameters[paramEvent].(string); ok {
			tags["event"] = value
		}
	}
	h.Observer.Count(ctx, name, 1, tags)
}

var _ worker.Hook = (*ObserverHook)(nil)
