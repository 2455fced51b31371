package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
)

// ParsedEvent is a verified, schema-validated webhook event. Treat it as
// read-only once returned.
type ParsedEvent struct {
	Event         EventName
	Payload       map[string]any
	Signature     string
	MatchedSecret []byte
	Timestamp     *time.Time
	RawBody       []byte
	Headers       map[string]string
}

// Decode unmarshals the raw body into target, e.g. a typed payload struct.
func (e ParsedEvent) Decode(target any) error {
	if err := json.Unmarshal(e.RawBody, target); err != nil {
		return invalidPayload(err, "webhooks: decode event payload", map[string]any{"event": string(e.Event)})
	}
	return nil
}

// RequestID returns the payload's requestId field when present.
func (e ParsedEvent) RequestID() string {
	value, _ := e.Payload["requestId"].(string)
	return strings.TrimSpace(value)
}

// MustBeEvent returns a validation error unless evt carries one of names.
func MustBeEvent(evt ParsedEvent, names ...EventName) error {
	for _, name := range names {
		if evt.Event == name {
			return nil
		}
	}
	expected := make([]string, 0, len(names))
	for _, name := range names {
		expected = append(expected, string(name))
	}
	return validationError(
		fmt.Sprintf("webhooks: expected event %s, got %q", strings.Join(expected, " or "), evt.Event),
		map[string]any{"event": string(evt.Event), "expected": expected},
	)
}

type ParseOptions struct {
	VerifyOptions
	SkipSignatureVerification bool
}

type ParserOption func(*Parser)

func WithRegistry(registry *EventRegistry) ParserOption {
	return func(p *Parser) {
		if registry != nil {
			p.registry = registry
		}
	}
}

func WithLogger(logger core.Logger) ParserOption {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithLoggerProvider(provider core.LoggerProvider) ParserOption {
	return func(p *Parser) {
		p.loggerProvider = provider
	}
}

func WithNow(now func() time.Time) ParserOption {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// Parser turns raw webhook bytes into a ParsedEvent: verify, decode, validate.
type Parser struct {
	registry       *EventRegistry
	logger         core.Logger
	loggerProvider core.LoggerProvider
	now            func() time.Time
}

func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		registry: DefaultEventRegistry(),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	p.logger = core.ResolveLogger("webhooks.parser", p.loggerProvider, p.logger)
	return p
}

func (p *Parser) Registry() *EventRegistry {
	return p.registry
}

// Parse verifies raw (unless skipped) and returns the validated event.
// Signature errors are returned untouched; payload problems are validation
// errors.
func (p *Parser) Parse(
	ctx context.Context,
	raw []byte,
	headers core.HeaderSource,
	secrets [][]byte,
	opts ParseOptions,
) (ParsedEvent, error) {
	if p == nil {
		return ParsedEvent{}, fmt.Errorf("webhooks: parser is nil")
	}
	body := append([]byte(nil), raw...)
	evt := ParsedEvent{RawBody: body}

	if opts.SkipSignatureVerification {
		evt.Headers = core.NormalizeHeaders(headers)
	} else {
		verifyOpts := opts.VerifyOptions
		if verifyOpts.Now == nil {
			verifyOpts.Now = p.now
		}
		result, err := Verify(body, secrets, headers, verifyOpts)
		if err != nil {
			p.logger.WithContext(ctx).Warn("webhook signature rejected", "reason", reasonOf(err))
			return ParsedEvent{}, err
		}
		evt.Signature = result.Signature
		evt.MatchedSecret = result.MatchedSecret
		evt.Timestamp = result.Timestamp
		evt.Headers = result.Headers
	}

	payload, name, err := p.decode(body)
	if err != nil {
		p.logger.WithContext(ctx).Warn("webhook payload rejected", "error", err.Error())
		return ParsedEvent{}, err
	}
	evt.Event = name
	evt.Payload = payload
	p.logger.WithContext(ctx).Debug("webhook event parsed", "event", string(name))
	return evt, nil
}

func (p *Parser) decode(body []byte) (map[string]any, EventName, error) {
	if !utf8.Valid(body) {
		return nil, "", validationError("webhooks: payload is not valid UTF-8", nil)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if len(trimmed) > 0 && !json.Valid(trimmed) {
			return nil, "", invalidPayload(json.Unmarshal(trimmed, new(any)), "webhooks: payload is not valid JSON", nil)
		}
		return nil, "", validationError("webhooks: payload must be a JSON object", nil)
	}

	var payload map[string]any
	if err := json.Unmarshal(trimmed, &payload); err != nil {
		return nil, "", invalidPayload(err, "webhooks: payload is not valid JSON", nil)
	}
	if payload == nil {
		return nil, "", validationError("webhooks: payload must be a JSON object", nil)
	}

	rawName, ok := payload["event"].(string)
	if !ok || strings.TrimSpace(rawName) == "" {
		return nil, "", validationError("webhooks: payload event field must be a non-empty string", nil)
	}
	name := EventName(rawName)
	schema, ok := p.registry.Schema(name)
	if !ok {
		return nil, "", validationError(
			fmt.Sprintf("webhooks: unknown event %q", rawName),
			map[string]any{"event": rawName},
		)
	}
	if err := schema.Validate(payload); err != nil {
		return nil, "", invalidPayload(err, fmt.Sprintf("webhooks: payload for %q failed schema validation", rawName), map[string]any{"event": rawName})
	}
	return payload, name, nil
}

func reasonOf(err error) string {
	if err == nil {
		return ""
	}
	var sigErr *SignatureError
	if errors.As(err, &sigErr) {
		return string(sigErr.Reason)
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return "unknown"
}
