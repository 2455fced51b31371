package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-request-network/webhooks"
)

var (
	_ gocmd.Commander[ProcessWebhookMessage] = (*ProcessWebhookCommand)(nil)
	_ gocmd.Commander[RedeliverMessage]      = (*RedeliverCommand)(nil)
	_ gocmd.Commander[DispatchEventMessage]  = (*DispatchEventCommand)(nil)

	_ WebhookProcessor = (*webhooks.Processor)(nil)
	_ EventDispatcher  = (*webhooks.Dispatcher)(nil)
)
