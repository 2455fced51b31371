// Package requestnetwork verifies, parses and dispatches Request Network
// webhooks and decides retries for outbound API calls. The root package
// re-exports the common entry points; the subpackages hold the details.
package requestnetwork

import (
	"fmt"
	"time"

	rncommand "github.com/goliatone/go-request-network/command"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/retry"
	"github.com/goliatone/go-request-network/webhooks"
)

type (
	Config             = core.Config
	EventName          = webhooks.EventName
	ParsedEvent        = webhooks.ParsedEvent
	ParseOptions       = webhooks.ParseOptions
	VerifyOptions      = webhooks.VerifyOptions
	VerificationResult = webhooks.VerificationResult
	SignatureError     = webhooks.SignatureError
	Parser             = webhooks.Parser
	Dispatcher         = webhooks.Dispatcher
	DispatchContext    = webhooks.DispatchContext
	HandlerFunc        = webhooks.HandlerFunc
	Processor          = webhooks.Processor
	DeliveryLedger     = webhooks.DeliveryLedger
	SecretSource       = webhooks.SecretSource
	RetryConfig        = retry.Config
	RetryInput         = retry.Input
	RetryDecision      = retry.Decision
)

const (
	EventPaymentConfirmed     = webhooks.EventPaymentConfirmed
	EventPaymentFailed        = webhooks.EventPaymentFailed
	EventPaymentProcessing    = webhooks.EventPaymentProcessing
	EventPaymentDetailUpdated = webhooks.EventPaymentDetailUpdated
	EventComplianceUpdated    = webhooks.EventComplianceUpdated
	EventPaymentPartial       = webhooks.EventPaymentPartial
	EventPaymentRefunded      = webhooks.EventPaymentRefunded
	EventRequestRecurring     = webhooks.EventRequestRecurring
)

func NewParser(opts ...webhooks.ParserOption) *Parser {
	return webhooks.NewParser(opts...)
}

func NewDispatcher(opts ...webhooks.DispatcherOption) *Dispatcher {
	return webhooks.NewDispatcher(opts...)
}

func Verify(raw []byte, secrets [][]byte, headers core.HeaderSource, opts VerifyOptions) (VerificationResult, error) {
	return webhooks.Verify(raw, secrets, headers, opts)
}

func Sign(payload []byte, secret []byte) string {
	return webhooks.Sign(payload, secret)
}

func Decide(cfg RetryConfig, in RetryInput) RetryDecision {
	return retry.Decide(cfg, in)
}

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Commands are the go-command handlers bound to one processor.
type Commands struct {
	ProcessWebhook *rncommand.ProcessWebhookCommand
	Redeliver      *rncommand.RedeliverCommand
	DispatchEvent  *rncommand.DispatchEventCommand
}

// Facade wires a parser, dispatcher and processor from a Config and exposes
// them along with their commands.
type Facade struct {
	config     Config
	parser     *Parser
	dispatcher *Dispatcher
	processor  *Processor
	commands   Commands
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	ledger   DeliveryLedger
	logger   core.Logger
	provider core.LoggerProvider
	observer *core.Observer
}

// WithLedger replaces the default in-memory delivery ledger.
func WithLedger(ledger DeliveryLedger) FacadeOption {
	return func(options *facadeOptions) {
		options.ledger = ledger
	}
}

func WithLogger(logger core.Logger) FacadeOption {
	return func(options *facadeOptions) {
		options.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) FacadeOption {
	return func(options *facadeOptions) {
		options.provider = provider
	}
}

func WithObserver(observer *core.Observer) FacadeOption {
	return func(options *facadeOptions) {
		options.observer = observer
	}
}

func NewFacade(cfg Config, secrets SecretSource, opts ...FacadeOption) (*Facade, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if secrets == nil {
		return nil, fmt.Errorf("requestnetwork: secret source is required")
	}
	options := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&options)
	}
	ledger := options.ledger
	if ledger == nil {
		ledger = webhooks.NewMemoryDeliveryLedger()
	}

	parser := webhooks.NewParser(webhooks.WithLogger(options.logger), webhooks.WithLoggerProvider(options.provider))
	dispatcher := webhooks.NewDispatcher(webhooks.WithDispatcherLogger(core.ResolveLogger("webhooks.dispatcher", options.provider, options.logger)))

	retryCfg := retry.FromCoreConfig(cfg.Retry)
	processor := webhooks.NewProcessor(parser, secrets, ledger, dispatcher)
	processor.ParseOptions.VerifyOptions = VerifyOptions{
		Header:          cfg.Webhook.SignatureHeader,
		TimestampHeader: cfg.Webhook.TimestampHeader,
		Tolerance:       time.Duration(cfg.Webhook.ToleranceMS) * time.Millisecond,
	}
	if cfg.Webhook.DeliveryHeader != "" {
		processor.DeliveryHeader = cfg.Webhook.DeliveryHeader
	}
	if cfg.Ledger.ClaimLeaseMS > 0 {
		processor.ClaimLease = time.Duration(cfg.Ledger.ClaimLeaseMS) * time.Millisecond
	}
	if cfg.Ledger.MaxAttempts > 0 {
		processor.MaxAttempts = cfg.Ledger.MaxAttempts
		retryCfg.MaxAttempts = cfg.Ledger.MaxAttempts
	}
	processor.RetryPolicy = webhooks.BackoffPolicy{Config: retryCfg}
	processor.Observer = options.observer

	return &Facade{
		config:     cfg,
		parser:     parser,
		dispatcher: dispatcher,
		processor:  processor,
		commands: Commands{
			ProcessWebhook: rncommand.NewProcessWebhookCommand(processor),
			Redeliver:      rncommand.NewRedeliverCommand(processor),
			DispatchEvent:  rncommand.NewDispatchEventCommand(dispatcher),
		},
	}, nil
}

func (f *Facade) Config() Config {
	if f == nil {
		return Config{}
	}
	return f.config
}

func (f *Facade) Parser() *Parser {
	if f == nil {
		return nil
	}
	return f.parser
}

func (f *Facade) Dispatcher() *Dispatcher {
	if f == nil {
		return nil
	}
	return f.dispatcher
}

func (f *Facade) Processor() *Processor {
	if f == nil {
		return nil
	}
	return f.processor
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}
