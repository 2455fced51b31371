package webhooks

import (
	"errors"
	"net/http"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-request-network/core"
)

type SignatureReason string

const (
	ReasonMissingSignature  SignatureReason = "missing_signature"
	ReasonInvalidFormat     SignatureReason = "invalid_format"
	ReasonInvalidSignature  SignatureReason = "invalid_signature"
	ReasonToleranceExceeded SignatureReason = "tolerance_exceeded"
)

// SignatureError reports a failed verification. It never carries a secret.
type SignatureError struct {
	Reason       SignatureReason
	Header       string
	Signature    string
	RawSignature string
	Timestamp    *time.Time
}

func (e *SignatureError) Error() string {
	if e == nil {
		return "webhooks: signature error"
	}
	switch e.Reason {
	case ReasonMissingSignature:
		return "webhooks: missing signature in " + e.Header
	case ReasonInvalidFormat:
		return "webhooks: malformed signature"
	case ReasonToleranceExceeded:
		return "webhooks: signature timestamp outside tolerance"
	default:
		return "webhooks: signature verification failed"
	}
}

// ToServiceError maps the error into an auth-category envelope (HTTP 401).
func (e *SignatureError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"reason": string(e.Reason),
		"header": e.Header,
	}
	if e.Signature != "" {
		metadata["signature"] = e.Signature
	}
	if e.Timestamp != nil {
		metadata["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	}
	return goerrors.Wrap(e, goerrors.CategoryAuth, e.Error()).
		WithCode(http.StatusUnauthorized).
		WithTextCode(core.ErrorInvalidSignature).
		WithMetadata(metadata)
}

// IsSignatureError reports whether err is, or wraps, a *SignatureError.
func IsSignatureError(err error) bool {
	var sigErr *SignatureError
	return errors.As(err, &sigErr)
}

// AsSignatureError extracts the *SignatureError from err's chain.
func AsSignatureError(err error) (*SignatureError, bool) {
	var sigErr *SignatureError
	if errors.As(err, &sigErr) {
		return sigErr, true
	}
	return nil, false
}

// IsValidationError reports whether err is a payload validation failure.
func IsValidationError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.Category == goerrors.CategoryValidation
}

func validationError(message string, metadata map[string]any) error {
	return invalidPayload(nil, message, metadata)
}

func invalidPayload(source error, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source == nil {
		err = goerrors.New(message, goerrors.CategoryValidation)
	} else {
		err = goerrors.Wrap(source, goerrors.CategoryValidation, message)
	}
	err = err.WithCode(http.StatusBadRequest).WithTextCode(core.ErrorInvalidPayload)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}
