package inbound

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/webhooks"
)

type contextKey string

// EventHandler receives every parsed event after dispatch.
type EventHandler func(ctx context.Context, evt webhooks.ParsedEvent, r *http.Request) error

// ErrorHandler turns a non-signature failure into a response.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type Options struct {
	Parser       *webhooks.Parser
	Secrets      webhooks.SecretSource
	ParseOptions webhooks.ParseOptions
	// Processor, when set, takes over parsing, deduplication and dispatch.
	Processor    *webhooks.Processor
	Dispatcher   *webhooks.Dispatcher
	OnEvent      EventHandler
	OnError      ErrorHandler
	ContextKey   string
	MaxBodyBytes int64
	Logger       core.Logger
	Now          func() time.Time
}

// OptionsFromConfig fills the webhook section of cfg into Options.
func OptionsFromConfig(cfg core.WebhookConfig) Options {
	return Options{
		ParseOptions: webhooks.ParseOptions{
			VerifyOptions: webhooks.VerifyOptions{
				Header:          cfg.SignatureHeader,
				TimestampHeader: cfg.TimestampHeader,
				Tolerance:       time.Duration(cfg.ToleranceMS) * time.Millisecond,
			},
		},
		ContextKey:   cfg.ContextKey,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
}

type middleware struct {
	opts   Options
	key    contextKey
	logger core.Logger
}

// NewMiddleware returns net/http middleware that verifies and parses webhook
// deliveries. next may be nil, in which case accepted deliveries get 204.
func NewMiddleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Parser == nil {
		opts.Parser = webhooks.NewParser()
	}
	if opts.OnError == nil {
		opts.OnError = DefaultErrorHandler
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = core.DefaultMaxBodyBytes
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	key := strings.TrimSpace(opts.ContextKey)
	if key == "" {
		key = core.DefaultContextKey
	}
	m := &middleware{
		opts:   opts,
		key:    contextKey(key),
		logger: core.ResolveLogger("inbound.webhook", nil, opts.Logger),
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.serve(w, r, next)
		})
	}
}

// Handler is NewMiddleware without a next handler.
func Handler(opts Options) http.Handler {
	return NewMiddleware(opts)(nil)
}

// Mount registers the webhook endpoint as a POST route.
func Mount(router chi.Router, pattern string, opts Options) {
	router.Post(pattern, Handler(opts).ServeHTTP)
}

// EventFromContext returns the event stored under key (DefaultContextKey
// when empty).
func EventFromContext(ctx context.Context, key string) (webhooks.ParsedEvent, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = core.DefaultContextKey
	}
	evt, ok := ctx.Value(contextKey(key)).(webhooks.ParsedEvent)
	return evt, ok
}

func (m *middleware) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.opts.MaxBodyBytes))
	if err != nil {
		m.fail(w, r, bodyReadError(err, m.opts.MaxBodyBytes))
		return
	}
	headers := core.HTTPHeader(r.Header)

	var (
		evt     webhooks.ParsedEvent
		deduped bool
	)
	if m.opts.Processor != nil {
		result, err := m.opts.Processor.Process(ctx, webhooks.Delivery{Body: body, Headers: headers, Request: r})
		if err != nil {
			m.fail(w, r, err)
			return
		}
		evt = result.Event
		deduped = result.Metadata["deduped"] == true
	} else {
		var secrets [][]byte
		if m.opts.Secrets != nil && !m.opts.ParseOptions.SkipSignatureVerification {
			secrets, err = m.opts.Secrets.Secrets(ctx, m.opts.Now())
			if err != nil {
				m.fail(w, r, err)
				return
			}
		}
		evt, err = m.opts.Parser.Parse(ctx, body, headers, secrets, m.opts.ParseOptions)
		if err != nil {
			m.fail(w, r, err)
			return
		}
		if m.opts.Dispatcher != nil {
			dc := webhooks.DispatchContext{
				Request:    r,
				DeliveryID: core.HeaderValue(evt.Headers, core.DefaultDeliveryHeader),
				Attempt:    1,
			}
			if err := m.opts.Dispatcher.Dispatch(ctx, evt, dc); err != nil {
				m.fail(w, r, err)
				return
			}
		}
	}

	ctx = context.WithValue(ctx, m.key, evt)
	r = r.WithContext(ctx)
	if m.opts.OnEvent != nil && evt.Event != "" && !deduped {
		if err := m.opts.OnEvent(ctx, evt, r); err != nil {
			m.fail(w, r, err)
			return
		}
	}
	if next == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	next.ServeHTTP(w, r)
}

func (m *middleware) fail(w http.ResponseWriter, r *http.Request, err error) {
	if sigErr, ok := webhooks.AsSignatureError(err); ok {
		m.logger.WithContext(r.Context()).Warn("webhook rejected", "reason", string(sigErr.Reason), "path", r.URL.Path)
		WriteSignatureError(w, sigErr)
		return
	}
	m.logger.WithContext(r.Context()).Error("webhook failed", "error", err.Error(), "path", r.URL.Path)
	m.opts.OnError(w, r, err)
}
