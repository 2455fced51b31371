package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
	"github.com/goliatone/go-request-network/retry"
	"github.com/google/uuid"
)

const (
	DefaultTimeout                 = 30 * time.Second
	DefaultIdempotencyHeader       = "Idempotency-Key"
	defaultResponseBodyLimit int64 = 10 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	Method  string
	URL     string
	Query   map[string]string
	Headers map[string]string
	Body    []byte
	// Timeout bounds each attempt. Zero uses the client default.
	Timeout              time.Duration
	MaxResponseBodyBytes int64
	// IdempotencyKey is sent on every attempt. When empty, a key is generated
	// for methods outside the retry allow-list.
	IdempotencyKey string
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.HTTP = doer
		}
	}
}

func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		c.Retry = cfg
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for key, value := range headers {
			c.DefaultHeaders[key] = value
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(c *Client) {
		c.Observer = observer
	}
}

// Client issues REST calls through the retry loop.
type Client struct {
	HTTP                 HTTPDoer
	BaseURL              string
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	Timeout              time.Duration
	Retry                retry.Config
	IdempotencyHeader    string
	Observer             *core.Observer
}

func NewClient(baseURL string, opts ...Option) *Client {
	client := &Client{
		HTTP:                 &http.Client{},
		BaseURL:              strings.TrimSpace(baseURL),
		DefaultHeaders:       map[string]string{},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
		Timeout:              DefaultTimeout,
		Retry:                retry.DefaultConfig(),
		IdempotencyHeader:    DefaultIdempotencyHeader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Do runs req until it succeeds, the retry policy declines, or ctx is done.
// Non-2xx responses that are not retried are returned as *APIError.
func (c *Client) Do(ctx context.Context, req Request) (Response, error) {
	if c == nil || c.HTTP == nil {
		return Response{}, transportError(
			"transport: client requires an http doer",
			goerrors.CategoryInternal,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := c.resolveURL(req)
	if err != nil {
		return Response{}, err
	}
	if req.IdempotencyKey == "" && !methodRetryable(c.Retry.AllowedMethods, method) {
		req.IdempotencyKey = uuid.NewString()
	}

	startedAt := time.Now()
	attempts := 0
	res, err := retry.Run(ctx, c.Retry, method, func(ctx context.Context, attempt int) (Response, *retry.ResponseInfo, error) {
		attempts = attempt
		return c.attempt(ctx, method, target, req)
	}, c.observeDecision)

	res.Attempts = attempts
	res.Duration = time.Since(startedAt)
	c.Observer.Observe(ctx, startedAt, "transport.request", err, map[string]any{
		"method":      method,
		"status_code": res.StatusCode,
		"attempts":    attempts,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return res, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		return res, transportWrapError(err, goerrors.CategoryExternal, "transport: request failed", map[string]any{
			"method":   method,
			"url":      target,
			"attempts": attempts,
		})
	}
	return res, nil
}

func (c *Client) attempt(ctx context.Context, method string, target string, req Request) (Response, *retry.ResponseInfo, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.Timeout
	}
	requestCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(requestCtx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, nil, transportWrapError(err, goerrors.CategoryBadInput, "transport: create http request", map[string]any{
			"method": method,
			"url":    target,
		})
	}
	for key, value := range c.DefaultHeaders {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) != "" {
			httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
		}
	}
	if req.IdempotencyKey != "" {
		header := c.IdempotencyHeader
		if header == "" {
			header = DefaultIdempotencyHeader
		}
		httpReq.Header.Set(header, req.IdempotencyKey)
	}

	httpRes, err := c.HTTP.Do(httpReq)
	if err != nil {
		// A caller cancellation must not look like a retryable network error.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, nil, ctxErr
		}
		return Response{}, nil, err
	}
	defer httpRes.Body.Close()

	limit := req.MaxResponseBodyBytes
	if limit <= 0 {
		limit = c.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, nil, err
	}
	if int64(len(body)) > limit {
		return Response{}, nil, transportError(
			fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
			map[string]any{"status_code": httpRes.StatusCode, "response_limit_b": limit},
		)
	}

	headers := core.HTTPHeader(httpRes.Header).Normalize()
	res := Response{StatusCode: httpRes.StatusCode, Headers: headers, Body: body}
	if httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
		return res, nil, nil
	}

	info := &retry.ResponseInfo{StatusCode: httpRes.StatusCode, Headers: headers}
	var retryAfter *time.Duration
	if hint, ok := retryAfterFrom(headers); ok {
		retryAfter = &hint
		info.RetryAfter = &hint
	}
	return res, info, newAPIError(httpRes.StatusCode, headers, body, retryAfter)
}

func (c *Client) resolveURL(req Request) (string, error) {
	raw := strings.TrimSpace(req.URL)
	if c.BaseURL != "" && !strings.Contains(raw, "://") {
		raw = strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(raw, "/")
	}
	if raw == "" {
		return "", transportError("transport: request url is required", goerrors.CategoryBadInput, nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", transportWrapError(err, goerrors.CategoryBadInput, "transport: invalid request url", map[string]any{"url": raw})
	}
	if len(req.Query) > 0 {
		query := parsed.Query()
		for key, value := range req.Query {
			if strings.TrimSpace(key) != "" {
				query.Set(strings.TrimSpace(key), strings.TrimSpace(value))
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func (c *Client) observeDecision(in retry.Input, decision retry.Decision) {
	tags := map[string]string{
		"method": in.Method,
		"reason": string(decision.Reason),
		"retry":  fmt.Sprint(decision.Retry),
	}
	c.Observer.Count(context.Background(), "transport.retry.decision", 1, tags)
}

func retryAfterFrom(headers map[string]string) (time.Duration, bool) {
	if hint, ok := retry.RetryAfterFromHeaders(headers); ok {
		return hint, true
	}
	if value := core.HeaderValue(headers, "retry-after"); value != "" {
		return retry.ParseRetryAfter(value, time.Now())
	}
	return 0, false
}

func methodRetryable(allowed []string, method string) bool {
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), method) {
			return true
		}
	}
	return false
}
