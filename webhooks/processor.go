package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/retry"
)

// SecretSource yields the candidate secrets valid at an instant, in the
// order they should be tried.
type SecretSource interface {
	Secrets(ctx context.Context, at time.Time) ([][]byte, error)
}

type StaticSecrets [][]byte

func (s StaticSecrets) Secrets(context.Context, time.Time) ([][]byte, error) {
	out := make([][]byte, 0, len(s))
	for _, secret := range s {
		out = append(out, append([]byte(nil), secret...))
	}
	return out, nil
}

func StringSecrets(values ...string) StaticSecrets {
	out := make(StaticSecrets, 0, len(values))
	for _, value := range values {
		if value = strings.TrimSpace(value); value != "" {
			out = append(out, []byte(value))
		}
	}
	return out
}

// Delivery is one inbound webhook request.
type Delivery struct {
	Body    []byte
	Headers core.HeaderSource
	Request *http.Request
}

type ProcessResult struct {
	Accepted   bool
	StatusCode int
	Event      ParsedEvent
	DeliveryID string
	Attempts   int
	Metadata   map[string]any
}

// RetryPolicy schedules the next attempt of a failed delivery.
type RetryPolicy interface {
	NextDelay(attempt int, cause error) (time.Duration, bool)
}

// BackoffPolicy delegates to retry.Decide on the error path.
type BackoffPolicy struct {
	Config retry.Config
}

func (p BackoffPolicy) NextDelay(attempt int, cause error) (time.Duration, bool) {
	decision := retry.Decide(p.Config, retry.Input{Attempt: attempt, Err: cause})
	return decision.Delay, decision.Retry
}

// DefaultBackoffPolicy uses the default retry timings with maxAttempts
// attempts.
func DefaultBackoffPolicy(maxAttempts int) BackoffPolicy {
	cfg := retry.DefaultConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	return BackoffPolicy{Config: cfg}
}

// Processor runs a delivery through verify/parse, ledger claim, burst
// control, dispatch and completion.
type Processor struct {
	Parser         *Parser
	Secrets        SecretSource
	ParseOptions   ParseOptions
	Ledger         DeliveryLedger
	Dispatcher     *Dispatcher
	Burst          BurstController
	RetryPolicy    RetryPolicy
	DeliveryHeader string
	ClaimLease     time.Duration
	MaxAttempts    int
	Observer       *core.Observer
	Now            func() time.Time
}

func NewProcessor(parser *Parser, secrets SecretSource, ledger DeliveryLedger, dispatcher *Dispatcher) *Processor {
	if parser == nil {
		parser = NewParser()
	}
	return &Processor{
		Parser:         parser,
		Secrets:        secrets,
		Ledger:         ledger,
		Dispatcher:     dispatcher,
		RetryPolicy:    DefaultBackoffPolicy(8),
		DeliveryHeader: core.DefaultDeliveryHeader,
		ClaimLease:     30 * time.Second,
		MaxAttempts:    8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(ctx context.Context, delivery Delivery) (result ProcessResult, err error) {
	startedAt := time.Now()
	defer func() {
		if p == nil {
			return
		}
		p.Observer.Observe(ctx, startedAt, "webhook.process", err, map[string]any{
			"event":       string(result.Event.Event),
			"delivery_id": result.DeliveryID,
			"status_code": result.StatusCode,
			"reason":      reasonOf(err),
		})
	}()

	if p == nil || p.Ledger == nil || p.Dispatcher == nil {
		return ProcessResult{StatusCode: http.StatusInternalServerError},
			core.NewError("webhooks: processor requires ledger and dispatcher", goerrors.CategoryInternal, nil)
	}

	var secrets [][]byte
	if p.Secrets != nil && !p.ParseOptions.SkipSignatureVerification {
		secrets, err = p.Secrets.Secrets(ctx, p.now())
		if err != nil {
			return ProcessResult{StatusCode: http.StatusInternalServerError},
				core.WrapError(err, goerrors.CategoryInternal, "webhooks: resolve signing secrets", nil)
		}
	}

	evt, err := p.parser().Parse(ctx, delivery.Body, delivery.Headers, secrets, p.ParseOptions)
	if err != nil {
		status := http.StatusBadRequest
		if IsSignatureError(err) {
			status = http.StatusUnauthorized
		}
		return ProcessResult{StatusCode: status, Metadata: map[string]any{"rejected": true}}, err
	}

	deliveryID := p.deliveryID(evt)
	record, claimed, err := p.Ledger.Claim(ctx, string(evt.Event), deliveryID, evt.RawBody, p.claimLease())
	if err != nil {
		return ProcessResult{Event: evt, DeliveryID: deliveryID, StatusCode: http.StatusInternalServerError},
			core.WrapError(err, goerrors.CategoryOperation, "webhooks: claim delivery", map[string]any{"delivery_id": deliveryID})
	}
	if !claimed {
		return ProcessResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Event:      evt,
			DeliveryID: deliveryID,
			Attempts:   record.Attempts,
			Metadata: map[string]any{
				"event":       string(evt.Event),
				"delivery_id": deliveryID,
				"status":      record.Status,
				"deduped":     true,
			},
		}, nil
	}

	if p.Burst != nil {
		decision, burstErr := p.Burst.Allow(ctx, evt)
		if burstErr != nil {
			return ProcessResult{Event: evt, DeliveryID: deliveryID, StatusCode: http.StatusInternalServerError}, burstErr
		}
		if !decision.Allow {
			if markErr := p.Ledger.Complete(ctx, record.ClaimID); markErr != nil {
				return ProcessResult{Event: evt, DeliveryID: deliveryID, StatusCode: http.StatusInternalServerError}, markErr
			}
			metadata := ensureMetadata(decision.Metadata)
			metadata["event"] = string(evt.Event)
			metadata["delivery_id"] = deliveryID
			return ProcessResult{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Event:      evt,
				DeliveryID: deliveryID,
				Attempts:   record.Attempts,
				Metadata:   metadata,
			}, nil
		}
	}

	return p.dispatch(ctx, evt, record, delivery.Request)
}

// Redeliver re-runs a delivery left in retry_ready from its stored payload.
// The payload was verified when it was first received.
func (p *Processor) Redeliver(ctx context.Context, event string, deliveryID string) (result ProcessResult, err error) {
	startedAt := time.Now()
	defer func() {
		if p == nil {
			return
		}
		p.Observer.Observe(ctx, startedAt, "webhook.redeliver", err, map[string]any{
			"event":       event,
			"delivery_id": deliveryID,
			"status_code": result.StatusCode,
		})
	}()

	if p == nil || p.Ledger == nil || p.Dispatcher == nil {
		return ProcessResult{StatusCode: http.StatusInternalServerError},
			core.NewError("webhooks: processor requires ledger and dispatcher", goerrors.CategoryInternal, nil)
	}
	existing, err := p.Ledger.Get(ctx, event, deliveryID)
	if err != nil {
		return ProcessResult{StatusCode: http.StatusNotFound, DeliveryID: deliveryID},
			core.WrapError(err, goerrors.CategoryNotFound, "webhooks: load delivery", map[string]any{"delivery_id": deliveryID})
	}
	record, claimed, err := p.Ledger.Claim(ctx, event, deliveryID, existing.Payload, p.claimLease())
	if err != nil {
		return ProcessResult{StatusCode: http.StatusInternalServerError, DeliveryID: deliveryID},
			core.WrapError(err, goerrors.CategoryOperation, "webhooks: claim delivery", map[string]any{"delivery_id": deliveryID})
	}
	if !claimed {
		return ProcessResult{
			Accepted:   true,
			StatusCode: http.StatusOK,
			DeliveryID: deliveryID,
			Attempts:   record.Attempts,
			Metadata:   map[string]any{"status": record.Status, "deduped": true},
		}, nil
	}

	opts := p.ParseOptions
	opts.SkipSignatureVerification = true
	evt, err := p.parser().Parse(ctx, existing.Payload, nil, nil, opts)
	if err != nil {
		result := ProcessResult{StatusCode: http.StatusBadRequest, DeliveryID: deliveryID}
		if failErr := p.Ledger.Fail(ctx, record.ClaimID, err, p.now(), record.Attempts); failErr != nil {
			return result, fmt.Errorf("%w (ledger: %v)", err, failErr)
		}
		return result, err
	}
	return p.dispatch(ctx, evt, record, nil)
}

func (p *Processor) dispatch(ctx context.Context, evt ParsedEvent, record DeliveryRecord, req *http.Request) (ProcessResult, error) {
	result := ProcessResult{
		Event:      evt,
		DeliveryID: record.DeliveryID,
		Attempts:   record.Attempts,
	}
	dc := DispatchContext{
		Request:    req,
		DeliveryID: record.DeliveryID,
		Attempt:    record.Attempts,
		Metadata:   map[string]any{"event": string(evt.Event)},
	}
	if err := p.Dispatcher.Dispatch(ctx, evt, dc); err != nil {
		maxAttempts := p.maxAttempts()
		delay, retryable := p.retryPolicy().NextDelay(record.Attempts, err)
		if !retryable {
			maxAttempts = record.Attempts
		}
		nextAttemptAt := p.now().Add(delay)
		failErr := p.Ledger.Fail(ctx, record.ClaimID, err, nextAttemptAt, maxAttempts)
		result.StatusCode = http.StatusInternalServerError
		result.Metadata = map[string]any{
			"event":       string(evt.Event),
			"delivery_id": record.DeliveryID,
			"status":      FailState(record.Attempts, maxAttempts),
		}
		if FailState(record.Attempts, maxAttempts) == DeliveryStatusRetryReady {
			result.Metadata["next_attempt_at"] = nextAttemptAt
		}
		handlerErr := goerrors.Wrap(err, goerrors.CategoryOperation, "webhooks: event handler failed").
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorHandlerFailed).
			WithMetadata(map[string]any{"event": string(evt.Event), "delivery_id": record.DeliveryID})
		if failErr != nil {
			return result, fmt.Errorf("%w (ledger: %v)", handlerErr, failErr)
		}
		return result, handlerErr
	}

	if err := p.Ledger.Complete(ctx, record.ClaimID); err != nil {
		result.StatusCode = http.StatusInternalServerError
		return result, core.WrapError(err, goerrors.CategoryOperation, "webhooks: complete delivery", map[string]any{"delivery_id": record.DeliveryID})
	}
	result.Accepted = true
	result.StatusCode = http.StatusOK
	result.Metadata = map[string]any{
		"event":       string(evt.Event),
		"delivery_id": record.DeliveryID,
		"status":      DeliveryStatusProcessed,
	}
	return result, nil
}

// deliveryID prefers the delivery header, then the verified signature, then
// a digest of the body.
func (p *Processor) deliveryID(evt ParsedEvent) string {
	header := strings.TrimSpace(p.DeliveryHeader)
	if header == "" {
		header = core.DefaultDeliveryHeader
	}
	if value := core.HeaderValue(evt.Headers, header); value != "" {
		return value
	}
	if evt.Signature != "" {
		return evt.Signature
	}
	sum := sha256.Sum256(evt.RawBody)
	return hex.EncodeToString(sum[:])
}

func (p *Processor) parser() *Parser {
	if p.Parser == nil {
		p.Parser = NewParser()
	}
	return p.Parser
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return DefaultBackoffPolicy(p.maxAttempts())
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func ensureMetadata(metadata map[string]any) map[string]any {
	if len(metadata) == 0 {
		return map[string]any{}
	}
	return metadata
}
