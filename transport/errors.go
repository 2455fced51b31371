package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter *time.Duration
	Headers    map[string]string
	Body       []byte
}

func (e *APIError) Error() string {
	if e == nil {
		return "transport: api error"
	}
	message := strings.TrimSpace(e.Message)
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("transport: api error %d (%s): %s", e.StatusCode, e.Code, message)
	}
	return fmt.Sprintf("transport: api error %d: %s", e.StatusCode, message)
}

func (e *APIError) HTTPStatus() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (e *APIError) RetryAfterHint() (time.Duration, bool) {
	if e == nil || e.RetryAfter == nil || *e.RetryAfter < 0 {
		return 0, false
	}
	return *e.RetryAfter, true
}

// ToServiceError maps the response status onto a go-errors category.
func (e *APIError) ToServiceError() *goerrors.Error {
	category := categoryForStatus(e.StatusCode)
	metadata := map[string]any{"status_code": e.StatusCode}
	if e.Code != "" {
		metadata["api_code"] = e.Code
	}
	if e.RetryAfter != nil {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.Wrap(e, category, e.Error()).
		WithCode(e.StatusCode).
		WithTextCode(core.DefaultTextCode(category)).
		WithMetadata(metadata)
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return goerrors.CategoryBadInput
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 500:
		return goerrors.CategoryExternal
	default:
		return goerrors.CategoryOperation
	}
}

// newAPIError reads an error body of the shape {"code","message"} or
// {"error": ...}; other bodies are kept verbatim.
func newAPIError(status int, headers map[string]string, body []byte, retryAfter *time.Duration) *APIError {
	apiErr := &APIError{
		StatusCode: status,
		RetryAfter: retryAfter,
		Headers:    headers,
		Body:       body,
	}
	var parsed struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Code != nil {
			apiErr.Code = strings.TrimSpace(fmt.Sprint(parsed.Code))
		}
		apiErr.Message = strings.TrimSpace(parsed.Message)
		if apiErr.Message == "" {
			if text, ok := parsed.Error.(string); ok {
				apiErr.Message = strings.TrimSpace(text)
			}
		}
	}
	return apiErr
}

func transportError(
	message string,
	category goerrors.Category,
	metadata map[string]any,
) error {
	return core.NewError(message, category, metadata)
}

func transportWrapError(
	source error,
	category goerrors.Category,
	message string,
	metadata map[string]any,
) error {
	return core.WrapError(source, category, message, metadata)
}
