package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-request-network/webhooks"
)

type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.ProcessResult, error)
	Redeliver(ctx context.Context, event string, deliveryID string) (webhooks.ProcessResult, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, evt webhooks.ParsedEvent, dc webhooks.DispatchContext) error
}

type ProcessWebhookCommand struct {
	processor WebhookProcessor
}

func NewProcessWebhookCommand(processor WebhookProcessor) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{processor: processor}
}

func (c *ProcessWebhookCommand) Execute(ctx context.Context, msg ProcessWebhookMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.processor.Process(ctx, msg.delivery())
	storeResult(ctx, out)
	return err
}

type RedeliverCommand struct {
	processor WebhookProcessor
}

func NewRedeliverCommand(processor WebhookProcessor) *RedeliverCommand {
	return &RedeliverCommand{processor: processor}
}

func (c *RedeliverCommand) Execute(ctx context.Context, msg RedeliverMessage) error {
	if c == nil || c.processor == nil {
		return commandDependencyError("command: webhook processor is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	out, err := c.processor.Redeliver(ctx, msg.Event, msg.DeliveryID)
	storeResult(ctx, out)
	return err
}

type DispatchEventCommand struct {
	dispatcher EventDispatcher
}

func NewDispatchEventCommand(dispatcher EventDispatcher) *DispatchEventCommand {
	return &DispatchEventCommand{dispatcher: dispatcher}
}

func (c *DispatchEventCommand) Execute(ctx context.Context, msg DispatchEventMessage) error {
	if c == nil || c.dispatcher == nil {
		return commandDependencyError("command: event dispatcher is required")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.dispatcher.Dispatch(ctx, msg.Event, msg.Context)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
