package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	rncommand "github.com/goliatone/go-request-network/command"
	"github.com/goliatone/go-request-network/webhooks"
)

type okMessage struct{}

func (okMessage) Type() string { return "request_network.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type queueMessage struct{}

func (queueMessage) Type() string { return "request_network.command.queue" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(rncommand.ProcessWebhookMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
	if err := ValidateMessageContract(rncommand.RedeliverMessage{Event: "payment.confirmed", DeliveryID: "d"}); err != nil {
		t.Fatalf("expected redeliver message to satisfy contract, got %v", err)
	}
}

func TestRegisterWebhookCommands_DispatchReachesDispatcher(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	dispatcher := webhooks.NewDispatcher()
	var seen []string
	dispatcher.On(webhooks.EventComplianceUpdated, func(_ context.Context, evt webhooks.ParsedEvent, _ webhooks.DispatchContext) error {
		seen = append(seen, string(evt.Event))
		return nil
	})

	subs, err := RegisterWebhookCommands(adapter, nil, dispatcher)
	if err != nil {
		t.Fatalf("register webhook commands: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 1 {
		t.Fatalf("expected only the dispatch commander without a processor, got %d", len(subs))
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	err = Dispatch(context.Background(), rncommand.DispatchEventMessage{
		Event: webhooks.ParsedEvent{Event: webhooks.EventComplianceUpdated, Payload: map[string]any{"event": "compliance.updated"}},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(seen) != 1 || seen[0] != "compliance.updated" {
		t.Fatalf("expected dispatcher to receive the event, got %v", seen)
	}
}

func TestRegisterWebhookCommands_ProcessorCommanders(t *testing.T) {
	adapter := NewRegistryAdapter(nil)
	processor := &stubProcessor{err: errors.New("not stored")}

	subs, err := RegisterWebhookCommands(adapter, processor, nil)
	if err != nil {
		t.Fatalf("register webhook commands: %v", err)
	}
	defer subs.Unsubscribe()
	if len(subs) != 2 {
		t.Fatalf("expected process and redeliver commanders, got %d", len(subs))
	}

	err = Dispatch(context.Background(), rncommand.RedeliverMessage{Event: "payment.confirmed", DeliveryID: "d-1"})
	if err == nil {
		t.Fatalf("expected redeliver error to propagate through dispatch")
	}
	if processor.redelivered != "payment.confirmed/d-1" {
		t.Fatalf("expected redeliver call, got %q", processor.redelivered)
	}
}

func TestQueueResolverHookWiring(t *testing.T) {
	adapter := NewRegistryAdapter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	cmd := command.CommandFunc[queueMessage](func(context.Context, queueMessage) error { return nil })

	if err := adapter.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !adapter.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	if err := adapter.RegisterCommand(cmd); err != nil {
		t.Fatalf("register command: %v", err)
	}
	if err := adapter.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}

	if _, ok := queueRegistry.Get("request_network.command.queue"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}

type stubProcessor struct {
	err         error
	redelivered string
}

func (s *stubProcessor) Process(context.Context, webhooks.Delivery) (webhooks.ProcessResult, error) {
	return webhooks.ProcessResult{}, s.err
}

func (s *stubProcessor) Redeliver(_ context.Context, event string, deliveryID string) (webhooks.ProcessResult, error) {
	s.redelivered = event + "/" + deliveryID
	return webhooks.ProcessResult{}, s.err
}
