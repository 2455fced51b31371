package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-request-network/core"
)

type Jitter string

const (
	JitterNone Jitter = "none"
	JitterHalf Jitter = "half"
	JitterFull Jitter = "full"
)

type Reason string

const (
	ReasonRetriesDisabled     Reason = "retries-disabled"
	ReasonMaxAttemptsExceeded Reason = "max-attempts-exceeded"
	ReasonPredicateDeclined   Reason = "predicate-declined"
	ReasonPredicateAccepted   Reason = "predicate-accepted"
	ReasonMethodNotAllowed    Reason = "method-not-allowed"
	ReasonStatusNotRetryable  Reason = "status-not-retryable"
	ReasonRetryableStatus     Reason = "retryable-status"
	ReasonNetworkError        Reason = "network-error"
	ReasonCanceled            Reason = "canceled"
	ReasonNoFailure           Reason = "no-failure"
)

// ResponseInfo is the part of a prior response the policy looks at.
// RetryAfter, when set, takes precedence over the response headers.
type ResponseInfo struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
}

type Input struct {
	// Attempt is 1-based: the attempt that just completed.
	Attempt  int
	Method   string
	Response *ResponseInfo
	Err      error
}

type Decision struct {
	Retry  bool
	Delay  time.Duration
	Reason Reason
}

// Predicate replaces the status-code policy entirely when configured.
type Predicate func(in Input) bool

// StatusCoder is implemented by typed API errors carrying an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// AfterHinter is implemented by typed API errors carrying a retry-after hint.
type AfterHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

type Config struct {
	MaxAttempts      int
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	BackoffFactor    float64
	Jitter           Jitter
	RetryStatusCodes []int
	AllowedMethods   []string
	Predicate        Predicate
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

func DefaultConfig() Config {
	return FromCoreConfig(core.DefaultRetryConfig())
}

func FromCoreConfig(cfg core.RetryConfig) Config {
	return Config{
		MaxAttempts:      cfg.MaxAttempts,
		InitialDelay:     time.Duration(cfg.InitialDelayMS) * time.Millisecond,
		MaxDelay:         time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		BackoffFactor:    cfg.BackoffFactor,
		Jitter:           ParseJitter(cfg.Jitter),
		RetryStatusCodes: append([]int(nil), cfg.RetryStatusCodes...),
		AllowedMethods:   append([]string(nil), cfg.AllowedMethods...),
	}
}

// ParseJitter maps a configured jitter name; unknown or empty values mean full.
func ParseJitter(value string) Jitter {
	switch Jitter(strings.ToLower(strings.TrimSpace(value))) {
	case JitterNone:
		return JitterNone
	case JitterHalf:
		return JitterHalf
	default:
		return JitterFull
	}
}

// Decide computes the retry decision for the attempt described by in.
func Decide(cfg Config, in Input) Decision {
	if cfg.MaxAttempts <= 1 {
		return Decision{Reason: ReasonRetriesDisabled}
	}
	if in.Attempt >= cfg.MaxAttempts {
		return Decision{Reason: ReasonMaxAttemptsExceeded}
	}

	reason := ReasonPredicateAccepted
	if cfg.Predicate != nil {
		if !cfg.Predicate(in) {
			return Decision{Reason: ReasonPredicateDeclined}
		}
	} else {
		var retry bool
		retry, reason = statusPolicy(cfg, in)
		if !retry {
			return Decision{Reason: reason}
		}
	}

	return Decision{
		Retry:  true,
		Delay:  computeDelay(cfg, in),
		Reason: reason,
	}
}

func statusPolicy(cfg Config, in Input) (bool, Reason) {
	if in.Response != nil {
		if !methodAllowed(cfg.AllowedMethods, in.Method) {
			return false, ReasonMethodNotAllowed
		}
		if statusRetryable(cfg.RetryStatusCodes, in.Response.StatusCode) {
			return true, ReasonRetryableStatus
		}
		return false, ReasonStatusNotRetryable
	}
	if in.Err == nil {
		return false, ReasonNoFailure
	}
	if errors.Is(in.Err, context.Canceled) {
		return false, ReasonCanceled
	}
	var coder StatusCoder
	if errors.As(in.Err, &coder) && coder.HTTPStatus() > 0 {
		if !methodAllowed(cfg.AllowedMethods, in.Method) {
			return false, ReasonMethodNotAllowed
		}
		if statusRetryable(cfg.RetryStatusCodes, coder.HTTPStatus()) {
			return true, ReasonRetryableStatus
		}
		return false, ReasonStatusNotRetryable
	}
	// Network failures are retried even for methods outside the allow-list.
	return true, ReasonNetworkError
}

func computeDelay(cfg Config, in Input) time.Duration {
	if hint, ok := retryAfterHint(in); ok {
		return clampDelay(hint, cfg.MaxDelay)
	}

	attempt := in.Attempt
	if attempt < 1 {
		attempt = 1
	}
	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if math.IsNaN(base) || base < 0 {
		base = 0
	}
	if math.IsInf(base, 1) || base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}

	random := cfg.Rand
	if random == nil {
		random = rand.Float64
	}
	switch cfg.Jitter {
	case JitterNone:
	case JitterHalf:
		half := base / 2
		base = half + random()*half
	default:
		base = random() * base
	}
	return clampDelay(time.Duration(base), cfg.MaxDelay)
}

func retryAfterHint(in Input) (time.Duration, bool) {
	if in.Response != nil {
		if in.Response.RetryAfter != nil && *in.Response.RetryAfter >= 0 {
			return *in.Response.RetryAfter, true
		}
		if hint, ok := RetryAfterFromHeaders(in.Response.Headers); ok {
			return hint, true
		}
	}
	var hinter AfterHinter
	if in.Err != nil && errors.As(in.Err, &hinter) {
		if hint, ok := hinter.RetryAfterHint(); ok && hint >= 0 {
			return hint, true
		}
	}
	return 0, false
}

func clampDelay(delay time.Duration, maximum time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if delay > maximum {
		if maximum < 0 {
			return 0
		}
		return maximum
	}
	return delay
}

func methodAllowed(allowed []string, method string) bool {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), method) {
			return true
		}
	}
	return false
}

func statusRetryable(statuses []int, status int) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}
