package command

import (
	"strings"

	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/webhooks"
)

const (
	TypeProcessWebhook = "request_network.command.webhook.process"
	TypeRedeliver      = "request_network.command.webhook.redeliver"
	TypeDispatchEvent  = "request_network.command.event.dispatch"
)

// ProcessWebhookMessage carries one raw delivery as received on the wire.
type ProcessWebhookMessage struct {
	Body    []byte
	Headers map[string]string
}

func (ProcessWebhookMessage) Type() string { return TypeProcessWebhook }

func (m ProcessWebhookMessage) Validate() error {
	if len(m.Body) == 0 {
		return commandValidationError("body", "webhook body is required")
	}
	return nil
}

func (m ProcessWebhookMessage) delivery() webhooks.Delivery {
	return webhooks.Delivery{
		Body:    append([]byte(nil), m.Body...),
		Headers: core.HeaderMap(m.Headers),
	}
}

type RedeliverMessage struct {
	Event      string
	DeliveryID string
}

func (RedeliverMessage) Type() string { return TypeRedeliver }

func (m RedeliverMessage) Validate() error {
	if strings.TrimSpace(m.Event) == "" {
		return commandValidationError("event", "event is required")
	}
	if strings.TrimSpace(m.DeliveryID) == "" {
		return commandValidationError("delivery_id", "delivery id is required")
	}
	return nil
}

// DispatchEventMessage routes an already parsed event to its handlers.
type DispatchEventMessage struct {
	Event   webhooks.ParsedEvent
	Context webhooks.DispatchContext
}

func (DispatchEventMessage) Type() string { return TypeDispatchEvent }

func (m DispatchEventMessage) Validate() error {
	if strings.TrimSpace(string(m.Event.Event)) == "" {
		return commandValidationError("event", "event name is required")
	}
	return nil
}
